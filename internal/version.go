package internal

// Version is the current slideshow release.
const Version = "0.3.0"
