package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pkt.systems/kernelx/internal/appconfig"
	"pkt.systems/kernelx/internal/kernelmock"
	"pkt.systems/kernelx/internal/kernelspec"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

func newKernelsCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "kernels",
		Short: "List installed kernelspecs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			registry := kernelspec.NewRegistry(cfg.Kernel.SpecDirs, pslog.Ctx(cmd.Context()))
			specs, err := registry.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tLANGUAGE\tDISPLAY NAME\tRESOURCE DIR")
			for _, spec := range specs {
				marker := ""
				if string(spec.Name) == cfg.Kernel.Default {
					marker = " *"
				}
				_, _ = fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", spec.Name, marker, spec.Language(), spec.DisplayName, spec.ResourceDir)
			}
			return w.Flush()
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.AddCommand(newKernelsInstallMockCmd())
	return cmd
}

func newKernelsInstallMockCmd() *cobra.Command {
	var dataDir string
	var name string
	cmd := &cobra.Command{
		Use:   "install-mock",
		Short: "Install a kernelspec that runs the built-in mock kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			if strings.TrimSpace(dataDir) == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				dataDir = filepath.Join(home, ".local", "share", "jupyter")
			}
			dir, err := kernelspec.Install(dataDir, mockKernelSpec(name, exe))
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("kernelspec installed", "kernel", name, "path", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "jupyter data directory (default ~/.local/share/jupyter)")
	cmd.Flags().StringVar(&name, "name", "kernelx-mock", "kernelspec name")
	return cmd
}

func mockKernelSpec(name, exe string) schema.KernelSpecification {
	return schema.KernelSpecification{
		Name:          schema.KernelName(name),
		DisplayName:   "kernelx mock",
		LanguageName:  kernelmock.Language,
		Argv:          []string{exe, "kernel-mock"},
		InterruptMode: schema.InterruptModeSignal,
	}
}
