package version

// Version is the cmdpipe release; bump when termination semantics change.
const Version = "v0.1.0"
