// Package youtube implements the publish transport and credential handling
// for YouTube destinations.
//
// Uploads use the Data API v3 resumable protocol: one POST opens a session,
// then the artifact is sent in Content-Range chunks. A 308 response carries
// the acknowledged byte range; 200/201 carries the final video resource.
// Server-side transient statuses are classified as retriable for the publish
// pipeline; everything else (auth, validation) is terminal.
//
// Credentials are per-channel authorized-user token files. Interactive
// authorization is handled elsewhere; this package only loads, refreshes and
// persists tokens.
package youtube
