// Command lifecycle is the CLI front end of the dataset versioning engine.
//
// Usage:
//
//	lifecycle -config configs/engine.json <command> [flags]
//
// Commands:
//
//	create    ingest a source file as a new dataset
//	apply     run a transform pipeline and commit a new version
//	activate  move the active pointer to an existing version
//	publish   publish a Validated version as a view or snapshot
//	diff      compare two versions (or a version against its parent)
//	list      list datasets
//	versions  list a dataset's versions
//	schema    print a version's schema
//	verify    verify a snapshot against its integrity receipt
//	validate  validate the configuration and exit
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"datalab/internal/abort"
	"datalab/internal/config"
	"datalab/internal/lifecycle"
	"datalab/internal/metrics"
	"datalab/internal/metrics/datadog"
	"datalab/internal/publish"
	"datalab/internal/registry"
	"datalab/internal/stage"
	"datalab/internal/store"

	// register all storage backends with the store factory.
	// config specifies which to use but we build in support for all of them.
	_ "datalab/internal/store/all"
)

const appVersion = "0.3.0"

func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
	)
	flag.StringVar(&cfgPath, "config", "configs/engine.json", "engine config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend override (datadog, none)")
	verbose := flag.Bool("v", false, "enable verbose logs")
	flag.Parse()

	if flag.NArg() < 1 {
		fatalf("usage: lifecycle [flags] <command> [command flags]\nrun with -h for details")
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if command == "validate" {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	// verify needs no store or metrics; handle it before opening anything.
	if command == "verify" {
		runVerify(args)
		return
	}

	// Decide metrics backend: flag → config → none.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = cfg.Metrics.Backend
	}
	switch backendName {
	case "datadog":
		flushEvery := time.Duration(cfg.Metrics.FlushSeconds) * time.Second
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    "lifecycle",
			Tags:       cfg.Metrics.Tags,
			FlushEvery: flushEvery,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			if *verbose {
				log.Printf("metrics: backend=%v tags=%v", backendName, cfg.Metrics.Tags)
			}
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}
	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		fatalf("init store: %v", err)
	}

	reg := registry.New(st, abort.NewSignal(), registry.Options{
		BaseDir:              cfg.BaseDir,
		DiffThresholdPercent: cfg.Diff.ThresholdPercent,
		AppName:              "datalab",
		AppVersion:           appVersion,
	})

	start := time.Now()
	switch command {
	case "create":
		runCreate(ctx, reg, args)
	case "apply":
		runApply(ctx, reg, args)
	case "activate":
		runActivate(ctx, reg, args)
	case "publish":
		runPublish(ctx, reg, args)
	case "diff":
		runDiff(ctx, reg, args)
	case "list":
		runList(ctx, reg)
	case "versions":
		runVersions(ctx, reg, args)
	case "schema":
		runSchema(ctx, reg, args)
	default:
		fatalf("unknown command %q", command)
	}

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

func runCreate(ctx context.Context, reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "dataset name")
	source := fs.String("source", "", "source file path (csv or html)")
	_ = fs.Parse(args)

	if *name == "" || *source == "" {
		fatalf("create: -name and -source are required")
	}
	d, err := reg.CreateDataset(ctx, *name, *source)
	if err != nil {
		fatalf("create: %v", err)
	}
	printJSON(d)
}

func runApply(ctx context.Context, reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	dataset := fs.String("dataset", "", "dataset id")
	target := fs.String("target", "", "target stage (Cleaned, Advanced, Validated, ...)")
	pipelinePath := fs.String("pipeline", "", "pipeline JSON path (array of transform specs); omit for an empty pipeline")
	parent := fs.String("parent", "", "parent version id (default: active version)")
	desc := fs.String("desc", "", "version description")
	createdBy := fs.String("created-by", "", "author annotation")
	_ = fs.Parse(args)

	if *dataset == "" || *target == "" {
		fatalf("apply: -dataset and -target are required")
	}
	st, err := stage.Parse(*target)
	if err != nil {
		fatalf("apply: %v", err)
	}

	var specs []lifecycle.TransformSpec
	if *pipelinePath != "" {
		data, err := os.ReadFile(*pipelinePath)
		if err != nil {
			fatalf("apply: read pipeline: %v", err)
		}
		if err := json.Unmarshal(data, &specs); err != nil {
			fatalf("apply: decode pipeline: %v", err)
		}
	}

	v, err := reg.ApplyTransforms(ctx, *dataset, st, specs, registry.ApplyOptions{
		ParentID:    *parent,
		Description: *desc,
		CreatedBy:   *createdBy,
	})
	if err != nil {
		fatalf("apply: %v", err)
	}
	printJSON(v)
}

func runActivate(ctx context.Context, reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	dataset := fs.String("dataset", "", "dataset id")
	version := fs.String("version", "", "version id to activate")
	_ = fs.Parse(args)

	if *dataset == "" || *version == "" {
		fatalf("activate: -dataset and -version are required")
	}
	if err := reg.SetActiveVersion(ctx, *dataset, *version); err != nil {
		fatalf("activate: %v", err)
	}
	log.Printf("active version is now %s", *version)
}

func runPublish(ctx context.Context, reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	dataset := fs.String("dataset", "", "dataset id")
	version := fs.String("version", "", "version id (default: active version)")
	modeStr := fs.String("mode", "snapshot", "publish mode (view, snapshot)")
	dest := fs.String("dest", "", "snapshot destination directory")
	desc := fs.String("desc", "", "version description")
	_ = fs.Parse(args)

	if *dataset == "" {
		fatalf("publish: -dataset is required")
	}
	mode, err := publish.ParseMode(*modeStr)
	if err != nil {
		fatalf("publish: %v", err)
	}
	v, res, err := reg.PublishVersion(ctx, *dataset, registry.PublishOptions{
		VersionID:   *version,
		Mode:        mode,
		DestDir:     *dest,
		Description: *desc,
	})
	if err != nil {
		fatalf("publish: %v", err)
	}
	printJSON(v)
	if res.Receipt != nil {
		log.Printf("snapshot: %s (receipt %s)", res.Location.Path, publish.ReceiptPath(res.Location.Path))
	}
}

func runDiff(ctx context.Context, reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	dataset := fs.String("dataset", "", "dataset id")
	v1 := fs.String("v1", "", "older version id")
	v2 := fs.String("v2", "", "newer version id")
	version := fs.String("version", "", "diff this version against its parent")
	_ = fs.Parse(args)

	if *dataset == "" {
		fatalf("diff: -dataset is required")
	}
	var (
		summary any
		err     error
	)
	switch {
	case *version != "":
		summary, err = reg.DiffWithParent(ctx, *dataset, *version)
	case *v1 != "" && *v2 != "":
		summary, err = reg.Diff(ctx, *dataset, *v1, *v2)
	default:
		fatalf("diff: provide either -version, or both -v1 and -v2")
	}
	if err != nil {
		fatalf("diff: %v", err)
	}
	printJSON(summary)
}

func runList(ctx context.Context, reg *registry.Registry) {
	datasets, err := reg.ListDatasets(ctx)
	if err != nil {
		fatalf("list: %v", err)
	}
	for _, d := range datasets {
		active := "?"
		if v := d.Active(); v != nil {
			active = v.Stage.String()
		}
		fmt.Printf("%s  %-30s  versions=%d  active=%s\n", d.ID, d.Name, len(d.Versions), active)
	}
}

func runVersions(ctx context.Context, reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("versions", flag.ExitOnError)
	dataset := fs.String("dataset", "", "dataset id")
	_ = fs.Parse(args)

	if *dataset == "" {
		fatalf("versions: -dataset is required")
	}
	d, err := reg.GetDataset(ctx, *dataset)
	if err != nil {
		fatalf("versions: %v", err)
	}
	for _, v := range d.Versions {
		marker := " "
		if v.ID == d.ActiveVersionID {
			marker = "*"
		}
		fmt.Printf("%s %s  %-10s  rows=%-8d  %s\n",
			marker, v.ID, v.Stage, v.Metadata.RowCount, v.Metadata.Description)
	}
}

func runSchema(ctx context.Context, reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	dataset := fs.String("dataset", "", "dataset id")
	version := fs.String("version", "", "version id")
	_ = fs.Parse(args)

	if *dataset == "" || *version == "" {
		fatalf("schema: -dataset and -version are required")
	}
	schema, err := reg.GetVersionSchema(ctx, *dataset, *version)
	if err != nil {
		fatalf("schema: %v", err)
	}
	printJSON(schema)
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	snapshot := fs.String("snapshot", "", "snapshot file path")
	_ = fs.Parse(args)

	if *snapshot == "" {
		fatalf("verify: -snapshot is required")
	}
	receipt, err := publish.LoadReceipt(*snapshot)
	if err != nil {
		fatalf("verify: load receipt: %v", err)
	}
	if err := publish.VerifyReceipt(*snapshot, receipt); err != nil {
		fatalf("verify: %v", err)
	}
	log.Printf("ok: %s matches its receipt (%s %s)",
		*snapshot, receipt.Integrity.HashAlgorithm, receipt.Integrity.Hash[:12])
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("encode output: %v", err)
	}
	fmt.Println(string(data))
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
