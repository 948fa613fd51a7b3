package main

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/vizflow/
var version = "dev"

func versionString() string {
	return version
}
