/*
Package converter drives one clip from upload to download token.

A request moves through Received, Validated, Converting and finally
Succeeded or Failed:

  - the extension must be .mp4, .mov, .webm or .gif and the content must
    sniff as video
  - the start time ("HH:MM:SS") is checked against the clip length from
    ffprobe; when probing fails the check is made after conversion
  - the clip length is always [ClipDuration] seconds
  - with a queue configured the job is enqueued and its ID returned,
    otherwise the primary invoker runs in the request and the fallback
    invoker runs if it failed for any reason but a timeout
  - a successful GIF is registered in the token store and the caller gets
    a /download/<token>/ URL

Every file the request created is released on every failure path. Errors
carry the sentinels of this package, the transcoder and the queue; use
[Message] for text that is safe to show a caller.

[Converter.Process] executes queued jobs with the same rules and is the
handler for both the local and the Redis queue.
*/
package converter
