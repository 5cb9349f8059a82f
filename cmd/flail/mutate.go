package main

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		dir, name := path.Split(path.Clean(args[0]))
		if name == "" {
			return fmt.Errorf("missing directory name")
		}

		return s.Mkdir(path.Clean(dir), name)
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <path> <local file>",
	Short: "copy a local file into the image, use - for stdin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		var contents []byte
		if args[1] == "-" {
			contents, err = io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
		} else {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}

			prog := progressbar.DefaultBytes(info.Size(), args[1])
			reader := progressbar.NewReader(f, prog)
			contents, err = io.ReadAll(&reader)
			if err != nil {
				return err
			}
		}

		n, err := s.WriteToFile(args[0], contents)
		if err != nil {
			return err
		}

		fmt.Printf("wrote %d bytes to %s\n", n, args[0])
		return nil
	},
}

var rmUnlinkOnly bool

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "delete a file, releasing its inode and blocks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		if rmUnlinkOnly {
			return s.Unlink(args[0])
		}
		return s.Delete(args[0])
	},
}

var lnSymbolic bool

var lnCmd = &cobra.Command{
	Use:   "ln <target> <link path>",
	Short: "create a hard link, or a symlink with -s",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		if !lnSymbolic {
			return s.Link(args[0], args[1])
		}

		dir, name := path.Split(path.Clean(args[1]))
		parent, err := s.FindInode(path.Clean(dir))
		if err != nil {
			return err
		}

		return s.Symlink(parent, 0, name, args[0])
	},
}

func init() {
	rmCmd.Flags().BoolVar(&rmUnlinkOnly, "unlink-only", false, "remove the directory entry without touching the inode")
	lnCmd.Flags().BoolVarP(&lnSymbolic, "symbolic", "s", false, "create a symlink instead of a hard link")

	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lnCmd)
}
