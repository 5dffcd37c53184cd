// Package media provides the in-process image steps of the fallback GIF
// encoder: frame loading and downscaling (imaging, or libvips when
// initialized) and palette quantization with error diffusion.
package media
