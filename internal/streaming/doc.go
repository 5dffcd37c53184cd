/*
Package streaming sends download bodies with timeout protection.

A client that stops reading would otherwise keep a handler, and the file it
is serving, alive indefinitely. [Writer] bounds every write, cancels the
stream when nothing was written for the idle timeout, and splits large
writes into chunks so a disconnect is noticed quickly:

	n, err := streaming.Copy(r.Context(), w, file, streaming.DefaultConfig())
	if errors.Is(err, streaming.ErrClientGone) {
		// not a server error
	}
*/
package streaming
