package main

import (
	"github.com/AreTaj/Migraine-Navigator/internal/buildmode"
	"github.com/AreTaj/Migraine-Navigator/internal/cli"
	"github.com/AreTaj/Migraine-Navigator/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo(buildmode.Current.String())
	cli.Execute()
}
