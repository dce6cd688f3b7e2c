// Package meeting connects the bot to a video conference: joining, counting
// participants, posting chat messages and leaving. LiveKit rooms are supported
// through the server SDK; LocalConference covers capture without a meeting.
package meeting
