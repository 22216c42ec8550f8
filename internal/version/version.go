package version

var (
	// Version is the current gridrover build version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
	// Firmware is the motor-controller firmware contract the opcodes target
	Firmware = "urkab-b2"
)
