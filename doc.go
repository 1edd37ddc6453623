// # Realtime voice conversations with a live model
//
// Package live holds full-duplex voice conversations with a remote model such as the Gemini Live API. Microphone audio streams out while model audio and transcripts stream back, and the model may call host functions registered in a Registry mid-conversation.
//
// A Client runs four paths as one cancellation group: capture (microphone to a bounded queue), send (queue to session), receive (turn demultiplexing, tool dispatch and barge-in) and playback (unbounded queue to speaker). Transports live in the gemini and openai sub-packages; the host audio device is in tools.
package live
