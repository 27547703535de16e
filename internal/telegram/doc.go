// Package telegram is the Telegram webhook front end.
//
// Handler accepts update POSTs, checks the webhook secret, claims the
// update id through the dedupe guard so redeliveries are dropped, and then
// either handles a command (/start, /help, /reset) or runs a conversation
// turn and sends the reply back. Replies longer than MessageLimit are
// split by ChunkMessage; only the first chunk quotes the user's message.
//
// Chat keys are the chat id, or "chatID:threadID" inside forum topics.
package telegram
