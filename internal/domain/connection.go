package domain

// ConnHandle is the opaque transport-level identifier of one live
// connection, issued by the websocket adapter.
type ConnHandle string
