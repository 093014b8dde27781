package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary  = "dist/radar"
	mainPkg = "./cmd/radar"
)

// BuildCmd builds the radar cli natively or, for a foreign target, inside the
// cross-compilation image.
func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the radar cli",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var goos, goarch, version, crossOS, crossArch string
			for name, dst := range map[string]*string{
				"os": &goos, "arch": &goarch, "version": &version,
				"cross-os": &crossOS, "cross-arch": &crossArch,
			} {
				v, err := flags.GetString(name)
				if err != nil {
					return fmt.Errorf("could not get %s flag: %w", name, err)
				}
				*dst = v
			}

			if goos != runtime.GOOS || goarch != runtime.GOARCH {
				noCache, err := flags.GetBool("no-cache")
				if err != nil {
					return fmt.Errorf("could not get no-cache flag: %w", err)
				}
				return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", goos, goarch),
					[]string{"build", "--version", version, "--cross-os", crossOS, "--cross-arch", crossArch},
					build.DockerBuildOpts{NoCache: noCache, Image: "gophertribe/gobuild:1.25-bookworm"})
			}
			if crossOS != "" && crossArch != "" {
				goos, goarch = crossOS, crossArch
			}
			// sqlite is pure Go; cgo stays on for the HID bridge
			return build.GoBuild(binary, mainPkg, build.GoBuildOpts{
				Version:       version,
				InjectVersion: true,
				ConfigPackage: "main",
				EnableCgo:     true,
				Arch:          goarch,
				OS:            goos,
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building in docker")
	cmd.Flags().String("version", "latest", "version to inject")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().String("cross-os", "", "os to cross-compile for")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for")
	return cmd
}

// SimCmd runs a detector against the simulated engine, a quick smoke test that
// needs no hardware.
func SimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "sim [distance|presence]",
		Short:     "Run a detector on the simulated engine",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"distance", "presence"},
		RunE: func(cmd *cobra.Command, args []string) error {
			frames, err := cmd.Flags().GetInt("frames")
			if err != nil {
				return fmt.Errorf("could not get frames flag: %w", err)
			}
			run := exec.CommandContext(cmd.Context(), "go", "run", mainPkg, "--sim", args[0], "--frames", fmt.Sprint(frames))
			run.Stdout = os.Stdout
			run.Stderr = os.Stderr
			return run.Run()
		},
	}
	cmd.Flags().Int("frames", 20, "number of results to report")
	return cmd
}
