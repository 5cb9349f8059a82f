package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/queer/flail/pkg/ext"
)

var (
	rootImage    string
	rootVerbose  bool
	rootReadOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "flail",
	Short: "flail: poke at ext2/3/4 filesystem images without mounting them",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		w := os.Stderr

		level := slog.LevelInfo
		if rootVerbose {
			level = slog.LevelDebug
		}

		slog.SetDefault(slog.New(
			tint.NewHandler(w, &tint.Options{
				Level:      level,
				TimeFormat: time.RFC3339Nano,
				NoColor:    !isatty.IsTerminal(w.Fd()),
			}),
		))
	},
}

func openSession() (*ext.Session, error) {
	if rootImage == "" {
		return nil, fmt.Errorf("an image must be specified with --image")
	}

	var opts []ext.Option
	if rootReadOnly {
		opts = append(opts, ext.WithReadOnly())
	}

	return ext.Open(rootImage, opts...)
}

var fsinfoCmd = &cobra.Command{
	Use:   "fsinfo",
	Short: "print superblock and allocation information",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		sb := s.Superblock()

		fmt.Printf("uuid:              %s\n", uuid.UUID(sb.UUID).String())
		fmt.Printf("volume name:       %s\n", volumeName(sb.VolumeName))
		fmt.Printf("block size:        %d\n", sb.BlockSize())
		fmt.Printf("blocks:            %d (%d free)\n", sb.BlocksCount, sb.FreeBlocksCount)
		fmt.Printf("inodes:            %d (%d free)\n", sb.InodesCount, sb.FreeInodesCount)
		fmt.Printf("block groups:      %d\n", sb.GroupCount())
		fmt.Printf("blocks per group:  %d\n", sb.BlocksPerGroup)
		fmt.Printf("inodes per group:  %d\n", sb.InodesPerGroup)
		fmt.Printf("first inode:       %d\n", sb.FirstIno)
		fmt.Printf("created:           %s\n", time.Unix(int64(sb.MkfsTime), 0).Format(time.RFC3339))

		stats := s.Stats()
		slog.Debug("channel stats",
			"bytesRead", stats.BytesRead,
			"bytesWritten", stats.BytesWritten,
			"readOps", stats.ReadOps,
			"writeOps", stats.WriteOps)

		return nil
	},
}

func volumeName(raw [16]byte) string {
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw[:])
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootImage, "image", "", "the filesystem image to operate on")
	rootCmd.PersistentFlags().BoolVar(&rootVerbose, "verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&rootReadOnly, "read-only", false, "open the image read-only")

	rootCmd.AddCommand(fsinfoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
