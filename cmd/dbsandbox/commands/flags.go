package commands

import (
	"github.com/spf13/cobra"

	"github.com/giantswarm/dbsandbox"
)

// sandboxFlags are the flags shared by every command that builds a sandbox.
// They overlay the optional --config file.
type sandboxFlags struct {
	configPath string
	file       dbsandbox.FileConfig
}

func (f *sandboxFlags) registerInstall(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "YAML file with sandbox settings; flags override it")
	fs.StringVar(&f.file.Engine, "engine", "", "Server engine: mongod or litestore (default mongod)")
	fs.StringVar(&f.file.Version, "mongo-version", "", "MongoDB release, e.g. 7.0.14 (default latest)")
	fs.StringVar(&f.file.InstallDir, "install-dir", "", "Where the server is unpacked")
	fs.StringVar(&f.file.DownloadURL, "download-url", "", "Archive URL template; {version}, {dir}, {os}, {arch}, {distro} and {platform} are substituted")
	fs.StringVar(&f.file.ArchiveSHA256, "archive-sha256", "", "Expected hex SHA-256 of the archive")
	fs.StringVar(&f.file.Distro, "distro", "", "Linux distribution tag of the archive, e.g. ubuntu2204 (default detected)")
}

func (f *sandboxFlags) registerRun(cmd *cobra.Command) {
	f.registerInstall(cmd)
	fs := cmd.Flags()
	fs.StringVar(&f.file.Host, "host", "", "Bind address (default 127.0.0.1)")
	fs.IntVar(&f.file.BasePort, "base-port", 0, "First port to probe (default 27017)")
	fs.StringVar(&f.file.Database, "database", "", "Database checked for documents and purged")
	fs.DurationVar(&f.file.MinimumUptime, "minimum-uptime", 0, "Keep the server up at least this long")
	fs.DurationVar(&f.file.StartTimeout, "start-timeout", 0, "Bound on install plus start (default 5m)")
	fs.DurationVar(&f.file.StopTimeout, "stop-timeout", 0, "Bound on stop (default 30s)")
}

// options returns the config file options followed by the flag options, so
// that flags win.
func (f *sandboxFlags) options() ([]dbsandbox.Option, error) {
	var opts []dbsandbox.Option
	if f.configPath != "" {
		fileOpts, err := dbsandbox.LoadConfigFile(f.configPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fileOpts...)
	}
	if err := f.file.Validate(); err != nil {
		return nil, err
	}
	return append(opts, f.file.Options()...), nil
}
