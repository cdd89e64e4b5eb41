// Package history manages the conversation history channels of a session.
//
// A session owns any number of named channels. The default channel carries the
// main conversation; nodes may opt into a named channel to keep an independent
// sub-conversation with its own budget.
//
// Each channel is compacted with one of three policies before it is handed to a
// model:
//
//   - summarize: messages older than the last KeepLast are replaced by a single
//     model-generated summary. If the summarizer fails the channel is truncated
//     by tokens instead.
//   - truncate_tokens: the oldest messages are dropped one at a time until the
//     channel fits TokenLimit. The most recent user message is never dropped.
//   - max_history_length: only the last MaxLength messages are kept.
//
// Compaction only runs when a channel is over budget, so compacting twice
// without new messages leaves the channel unchanged.
package history
