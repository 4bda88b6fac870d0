// Package notification decodes Unity Cloud Build webhook payloads into
// build events.
//
// Only "cloudBuild.success" deliveries are accepted. The artifact to fetch is
// the first one flagged primary; its first file is the zipped player build.
package notification
