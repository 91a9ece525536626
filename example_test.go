package subtree_test

import (
	"context"
	"fmt"
	"log"

	billyfs "github.com/input-output-hk/catalyst-forge-libs/fs/billy"

	subtree "github.com/input-output-hk/catalyst-forge-libs/subtree"
)

// ExampleOpenGitBackend demonstrates opening an existing host repository
// and synchronizing its configured subtrees.
func ExampleOpenGitBackend() {
	ctx := context.Background()

	// Open the host repository from disk
	backend, err := subtree.OpenGitBackend(ctx, &subtree.BackendOptions{
		FS: billyfs.NewOSFS("/path/to/repo"),
		Author: subtree.Signature{
			Name:  "Example User",
			Email: "user@example.com",
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	// Load the subtree configuration
	cfg, err := subtree.Load("/path/to/repo/.subtree.yaml")
	if err != nil {
		log.Fatal(err)
	}
	specs, err := cfg.Specs()
	if err != nil {
		log.Fatal(err)
	}

	// Run the synchronization
	orch := subtree.NewOrchestrator(backend, cfg.Templates(), cfg.PointerPrefix, nil)
	outcomes, err := orch.Run(ctx, specs, subtree.RunOptions{})
	if err != nil {
		log.Fatal(err)
	}

	for _, outcome := range outcomes {
		fmt.Printf("%s: %s\n", outcome.Name, outcome.Kind)
	}
}

// ExampleParse demonstrates building subtree specs from YAML configuration.
func ExampleParse() {
	cfg, err := subtree.Parse([]byte(`
subtrees:
  - name: docs
    source: https://github.com/example/docs.git
    script:
      - move * ext/docs
`))
	if err != nil {
		log.Fatal(err)
	}

	specs, err := cfg.Specs()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(specs[0].Name)
	fmt.Println(specs[0].Script[0])
	// Output:
	// docs
	// move * ext/docs
}

// ExampleOrchestrator_Run demonstrates a targeted run that synchronizes a
// single subtree against an explicit revision.
func ExampleOrchestrator_Run() {
	ctx := context.Background()

	backend, err := subtree.OpenGitBackend(ctx, &subtree.BackendOptions{
		FS: billyfs.NewOSFS("/path/to/repo"),
	})
	if err != nil {
		log.Fatal(err)
	}

	spec := subtree.SubtreeSpec{
		Name:   "vendorlib",
		Source: "https://github.com/example/lib.git",
	}

	orch := subtree.NewOrchestrator(backend, subtree.MessageTemplates{}, subtree.DefaultPointerPrefix, nil)
	outcomes, err := orch.Run(ctx, []subtree.SubtreeSpec{spec}, subtree.RunOptions{
		Only: []string{"vendorlib"},
		Rev:  "v1.2.0",
	})
	if err != nil {
		log.Fatal(err)
	}

	if outcomes[0].Conflicts != nil {
		fmt.Printf("resolve conflicts in: %v\n", outcomes[0].Conflicts)
	}
}
