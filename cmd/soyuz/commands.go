package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/soyuz/internal/archive"
	"github.com/frederic-klein/soyuz/internal/config"
	"github.com/frederic-klein/soyuz/internal/librarian"
	"github.com/frederic-klein/soyuz/internal/policy"
	"github.com/frederic-klein/soyuz/internal/queue"
	"github.com/frederic-klein/soyuz/internal/server"
	"github.com/frederic-klein/soyuz/internal/sourceslist"
	"github.com/frederic-klein/soyuz/internal/store"
	"github.com/frederic-klein/soyuz/internal/upload"
)

func checkCmd() *cobra.Command {
	var (
		policyName   string
		distribution string
		series       string
		pocket       string
		buildID      string
		baseURL      string
		workers      int
	)
	cmd := &cobra.Command{
		Use:   "check <file.changes>...",
		Short: "Parse, verify and apply an upload policy to changes files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger()

			opts, err := policyOptions(cfg)
			if err != nil {
				return err
			}
			if policyName != "" {
				opts.Context = policyName
			}
			opts.Distribution, opts.Series, opts.BuildID = distribution, series, buildID
			if distribution != "" {
				err = withStore(cmd.Context(), cfg, func(st *store.Store) (err error) {
					opts.KnownSeries, err = st.Series(cmd.Context(), distribution)
					return err
				})
				if err != nil {
					return err
				}
				if len(opts.KnownSeries) == 0 {
					logger.Warn("no series known for distribution, not checking the target series", "distribution", distribution)
				}
			}
			if pocket != "" {
				if opts.Pocket, err = archive.ParsePocket(pocket); err != nil {
					return err
				}
			}

			proc, err := newProcessor(cfg, logger)
			if err != nil {
				return err
			}
			lib, err := librarian.New(cfg.Librarian.Dir)
			if err != nil {
				return fmt.Errorf("opening librarian: %w", err)
			}
			defer lib.Close()

			if workers == 0 {
				workers = cfg.Workers
			}
			jobs := make([]queue.Job, len(args))
			for i, path := range args {
				jobs[i] = queue.Job{Changes: path, Policy: opts}
				if baseURL != "" {
					jobs[i].BaseURL = baseURL
				} else {
					jobs[i].Dir = filepath.Dir(path)
				}
			}

			q := queue.New(workers, policy.DefaultRegistry(), proc, lib, logger)
			results := q.Validate(cmd.Context(), jobs)
			return printResults(results)
		},
	}
	cmd.Flags().StringVarP(&policyName, "policy", "p", "", "upload policy (default from config)")
	cmd.Flags().StringVar(&distribution, "distribution", "", "target distribution; uploads must name one of its known series")
	cmd.Flags().StringVar(&series, "series", "", "expected target series")
	cmd.Flags().StringVar(&pocket, "pocket", "", "expected target pocket")
	cmd.Flags().StringVar(&buildID, "build-id", "", "build the upload belongs to (buildd policy)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "fetch upload files from this URL instead of the local directory")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel workers (default from config)")
	return cmd
}

// printResults reports every upload and fails if any was not accepted.
func printResults(results []queue.Result) error {
	var (
		reports []upload.Report
		failed  int
	)
	for _, r := range results {
		if r.Err != nil {
			failed++
			if !viper.GetBool("json") {
				fmt.Printf("%s: error: %v\n", r.Job.Changes, r.Err)
			}
			continue
		}
		rep := r.Upload.Report()
		if !rep.Accepted {
			failed++
		}
		reports = append(reports, rep)
	}

	if viper.GetBool("json") {
		if err := printJSON(reports); err != nil {
			return err
		}
	} else {
		for _, rep := range reports {
			printReport(rep)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads rejected", failed, len(results))
	}
	return nil
}

func printReport(rep upload.Report) {
	status := "ACCEPTED"
	if !rep.Accepted {
		status = "REJECTED"
	}
	fmt.Printf("%s: %s %s -> %s [%s]\n", rep.Changes, rep.Source, rep.Version, rep.Suite, status)
	if rep.Signer != "" {
		fmt.Printf("  signed by %s\n", rep.Signer)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"File", "Kind", "Component", "Section", "Priority", "Size"})
	for _, f := range rep.Files {
		tw.AppendRow(table.Row{f.Filename, f.Kind, f.Component, f.Section, f.Priority, f.Size})
	}
	tw.Render()

	for _, w := range rep.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	for _, r := range rep.Rejections {
		fmt.Printf("  rejected: %s\n", r)
	}
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <filename> <priority>",
		Short: "Classify a file named in a changes manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := upload.Classify(args[0], args[1])
			if viper.GetBool("json") {
				return printJSON(map[string]string{"filename": args[0], "kind": kind.String()})
			}
			fmt.Println(kind)
			return nil
		},
	}
}

type policySummary struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	UnsignedChangesOK bool     `json:"unsigned_changes_ok"`
	UnsignedDscOK     bool     `json:"unsigned_dsc_ok"`
	CanUploadSource   bool     `json:"can_upload_source"`
	CanUploadBinaries bool     `json:"can_upload_binaries"`
	CanUploadMixed    bool     `json:"can_upload_mixed"`
	AllowUnknownFiles bool     `json:"allow_unknown_files"`
	Components        []string `json:"components"`
}

func policiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the registered upload policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := policyOptions(cfg)
			if err != nil {
				return err
			}
			// Some policies refuse to exist without a build.
			opts.BuildID = "example"

			reg := policy.DefaultRegistry()
			var out []policySummary
			for _, name := range reg.Names() {
				p, err := reg.Lookup(name, opts)
				if err != nil {
					return err
				}
				s := policySummary{
					Name:              p.Name,
					Description:       p.Description,
					UnsignedChangesOK: p.UnsignedChangesOK,
					UnsignedDscOK:     p.UnsignedDscOK,
					CanUploadSource:   p.CanUploadSource,
					CanUploadBinaries: p.CanUploadBinaries,
					CanUploadMixed:    p.CanUploadMixed,
					AllowUnknownFiles: p.AllowUnknownFiles,
				}
				for _, c := range p.DefaultPermittedComponents {
					s.Components = append(s.Components, string(c))
				}
				out = append(out, s)
			}

			if viper.GetBool("json") {
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "Unsigned changes", "Unsigned dsc", "Source", "Binaries", "Mixed", "Unknown files", "Components"})
			for _, s := range out {
				tw.AppendRow(table.Row{s.Name, s.UnsignedChangesOK, s.UnsignedDscOK, s.CanUploadSource, s.CanUploadBinaries, s.CanUploadMixed, s.AllowUnknownFiles, strings.Join(s.Components, " ")})
			}
			tw.Render()
			return nil
		},
	}
}

func sourcesListCmd() *cobra.Command {
	var output, check string
	cmd := &cobra.Command{
		Use:   "sources-list <build-id>",
		Short: "Write the APT sources a build may use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger()
			return withStore(cmd.Context(), cfg, func(st *store.Store) error {
				build, err := st.BuildByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				res, err := newResolver(cfg, st, logger)
				if err != nil {
					return err
				}
				lines, err := res.Resolve(cmd.Context(), build)
				if err != nil {
					return fmt.Errorf("resolving build %s: %w", build.ID, err)
				}

				if check != "" {
					return checkSourcesList(check, lines)
				}

				if viper.GetBool("json") {
					out := make([]string, len(lines))
					for i, l := range lines {
						out[i] = l.String()
					}
					return printJSON(out)
				}

				w := os.Stdout
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("creating %s: %w", output, err)
					}
					defer f.Close()
					w = f
				}
				header := fmt.Sprintf("build %s of %s in %s", build.ID, build.SourceName, build.Archive)
				if err := sourceslist.NewEmitter(w, header).Emit(lines); err != nil {
					return fmt.Errorf("writing sources.list: %w", err)
				}
				if output != "" {
					fmt.Printf("Wrote %s with %d entries\n", output, len(lines))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&check, "check", "", "compare an existing sources.list against the resolved entries")
	return cmd
}

// checkSourcesList reports drift between path and the resolved lines.
// Credentials are redacted in the output.
func checkSourcesList(path string, lines []sourceslist.Line) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	have, err := sourceslist.ParseAll(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	missing, extra := sourceslist.Diff(lines, have)
	for _, l := range missing {
		fmt.Printf("missing: %s\n", l.Redacted())
	}
	for _, l := range extra {
		fmt.Printf("extra:   %s\n", l.Redacted())
	}
	if len(missing)+len(extra) > 0 {
		return fmt.Errorf("%s differs from the resolved sources", path)
	}
	fmt.Printf("%s is up to date\n", path)
	return nil
}

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the archive and publication store",
	}
	cmd.AddCommand(storeImportCmd())
	cmd.AddCommand(storeArchivesCmd())
	return cmd
}

func storeImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load archives, publications and builds from a YAML fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			fixture, err := store.ParseFixture(f)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(st *store.Store) error {
				builds, err := st.Import(cmd.Context(), fixture)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(builds)
				}
				fmt.Printf("Imported %d archives, %d publications and %d builds\n",
					len(fixture.Archives), len(fixture.Sources)+len(fixture.Binaries), len(builds))
				if len(builds) == 0 {
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Build", "Archive", "Source", "Series", "Arch", "Pocket", "Component"})
				for _, b := range builds {
					tw.AppendRow(table.Row{b.ID, b.Archive.String(), b.SourceName, b.Series, b.Arch, b.Pocket, b.Component})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func storeArchivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archives",
		Short: "List archives and their configured dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			layout := cfg.Layout()
			return withStore(cmd.Context(), cfg, func(st *store.Store) error {
				archives, err := st.Archives(cmd.Context())
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Archive", "Purpose", "Private", "URL", "Dependencies"})
				for _, a := range archives {
					deps, err := st.ConfiguredDependencies(cmd.Context(), a)
					if err != nil {
						return err
					}
					var names []string
					for _, d := range deps {
						names = append(names, fmt.Sprintf("%s@%s", d.Archive, d.Pocket))
					}
					tw.AppendRow(table.Row{a.String(), a.Purpose, a.Private, layout.URL(a), strings.Join(names, " ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default soyuz.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Credentials.Secret != "" {
				cfg.Credentials.Secret = "xxxxx"
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			logger := newLogger()

			proc, err := newProcessor(cfg, logger)
			if err != nil {
				return err
			}
			defaults, err := policyOptions(cfg)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(st *store.Store) error {
				res, err := newResolver(cfg, st, logger)
				if err != nil {
					return err
				}
				scfg := server.Config{
					Registry:  policy.DefaultRegistry(),
					Processor: proc,
					Builds:    st,
					Resolver:  res,
					Series:    st,
					Defaults:  defaults,
					Logger:    logger,
				}
				issuer, err := newIssuer(cfg)
				if err != nil {
					return err
				}
				if issuer != nil {
					scfg.Archives, scfg.Tokens = st, issuer
				}
				handler, err := server.New(scfg)
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-cmd.Context().Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(ctx)
				}()
				logger.Info("serving soyuz API", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
