package main

import (
	"fmt"
	"os"

	"mailguard/internal/policyfile"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <policy.yaml>\n", os.Args[0])
		os.Exit(2)
	}

	policy, err := policyfile.Load(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if errs := policyfile.Check(policy); len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
	fmt.Printf("Policy check passed: %d models, %d enabled, selected %q.\n",
		len(policy.LLM.Models), len(policy.Allowlist()), policy.LLM.Selected)
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
