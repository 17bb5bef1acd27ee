// Package misskey is a small client for the parts of the Misskey API the
// bot uses.
//
// Client wraps the REST endpoints: every call is a POST to /api/<endpoint>
// with the access token in the "i" field of the JSON body. Failed calls
// return *APIError carrying the HTTP status and Misskey's error code.
//
// Stream connects to the streaming API, subscribes to the "main" channel
// and delivers mention and reply events. It reconnects with capped backoff
// until its context is cancelled.
package misskey
