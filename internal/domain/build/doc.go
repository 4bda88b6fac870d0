// Package build contains the domain types describing a finished Unity Cloud
// Build run and the deployment slot it lands in.
package build
