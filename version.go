package zenforge

// Version is the release of the zen binary, overridden at build time with -ldflags "-X".
var Version = "0.3.0"
