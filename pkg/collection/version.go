package collection

// Version is the collector release.
const Version = "0.1.0"
