// Package transcode re-encodes media files through asynchronous,
// event-driven codecs and writes the result into a single multiplexed
// container.
//
// Key pieces include:
//   - Extractor/Source for pulling compressed samples out of a container
//   - Codec/CodecProvider for slot-based asynchronous decoders and encoders
//   - MuxerGate, which defers sink startup until every encoder announced
//     its output format
//   - CompletionBarrier and ReleaseAggregator for run completion and teardown
//   - Transcoder/Transcode, the entry point tying all of the above together
//
// # Architecture
//
//	Source -> Extractor -> decoder -> (pairing) -> encoder -> MuxerGate -> Muxer
//
// Every codec owns a small pool of input and output slots. Work moves
// forward only when a codec reports a free slot, so slot availability is the
// single back-pressure mechanism. Each codec's events are forwarded by a
// dedicated pump goroutine into its stream's event channel; one coordinator
// goroutine per stream reacts to those events and is the only writer of that
// stream's state. The MuxerGate is the one piece of state shared between
// streams and serializes every write to the sink.
//
// # Containers and codecs
//
// The container package opens IVF and Annex-B H.264 (video) and Ogg/Opus
// (audio) inputs and creates WebM, Matroska, Ogg or fragmented MP4 outputs.
// The loopback package provides a software codec with the same asynchronous
// slot contract as a hardware codec; it registers itself as a provider on
// import.
package transcode
