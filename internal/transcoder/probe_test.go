package transcoder

import (
	"context"
	"testing"
	"time"
)

func TestParseProbeOutput(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    MediaInfo
		wantErr bool
	}{
		{
			name: "video with audio first",
			json: `{"streams":[{"codec_type":"audio","codec_name":"aac"},{"codec_type":"video","codec_name":"h264","width":1920,"height":1080}],"format":{"duration":"125.5"}}`,
			want: MediaInfo{Duration: 125.5, Width: 1920, Height: 1080, Codec: "h264"},
		},
		{
			name: "stream without codec_type",
			json: `{"streams":[{"codec_name":"vp9","width":640,"height":360}],"format":{"duration":"4.0"}}`,
			want: MediaInfo{Duration: 4, Width: 640, Height: 360, Codec: "vp9"},
		},
		{
			name:    "missing duration",
			json:    `{"streams":[],"format":{}}`,
			wantErr: true,
		},
		{
			name:    "malformed duration",
			json:    `{"format":{"duration":"N/A"}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			json:    `Invalid data found`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbeOutput([]byte(tt.json))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseProbeOutput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseProbeOutput() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFFprobeWithFakeBinary(t *testing.T) {
	bin := writeScript(t, `echo '{"streams":[{"codec_type":"video","codec_name":"h264","width":1280,"height":720}],"format":{"duration":"12.25"}}'`+"\n")

	info, err := NewFFprobe(bin, 5*time.Second).Probe(context.Background(), "/fake/clip.mp4")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if info.Duration != 12.25 || info.Width != 1280 {
		t.Errorf("Probe() = %+v", info)
	}
}

func TestFFprobeFailure(t *testing.T) {
	bin := writeScript(t, "echo 'moov atom not found' >&2\nexit 1\n")

	if _, err := NewFFprobe(bin, 5*time.Second).Probe(context.Background(), "/fake/clip.mp4"); err == nil {
		t.Error("Probe() expected error for failing ffprobe")
	}
}

func TestNewFFprobeDefaults(t *testing.T) {
	p := NewFFprobe("", 0)
	if p.Path != "ffprobe" || p.Timeout != 15*time.Second {
		t.Errorf("NewFFprobe defaults = %+v", p)
	}
}
