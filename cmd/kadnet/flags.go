package main

import "flag"

// newCustomFlagSet creates a flag.FlagSet with ContinueOnError behavior so
// the caller controls error handling instead of the default os.Exit(2).
func newCustomFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}
