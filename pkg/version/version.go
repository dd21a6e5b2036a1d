// Package version provides version information for the settlement pricer.
package version

// Version is the current version of the settlement pricer.
const Version = "0.3.0"

// AgentString returns the full agent string with versioning.
// Format: settlement-pricer/v{version}
func AgentString() string {
	return "settlement-pricer/v" + Version
}
