package common

// Version is overridden at build time with -ldflags "-X ...common.Version=<tag>".
var Version = "1.0.0"
