package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/queer/flail/pkg/ext"
)

var lsCmd = &cobra.Command{
	Use:   "ls <path>",
	Short: "list a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		return s.IterateDir(args[0], func(entry ext.DirEntry) error {
			fmt.Printf("%c %8d  %s\n", fileTypeChar(entry.FileType), entry.Inode, entry.Name)
			return nil
		})
	},
}

func fileTypeChar(fileType uint8) byte {
	switch fileType {
	case ext.FtDir:
		return 'd'
	case ext.FtSymlink:
		return 'l'
	case ext.FtChar:
		return 'c'
	case ext.FtBlock:
		return 'b'
	case ext.FtFifo:
		return 'p'
	case ext.FtSocket:
		return 's'
	case ext.FtRegular:
		return '-'
	default:
		return '?'
	}
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "write a file's contents to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		ino, err := s.FindInodeFollow(args[0])
		if err != nil {
			return err
		}

		file, err := s.OpenFile(ino.Num(), 0)
		if err != nil {
			return err
		}
		defer s.CloseFile(file)

		buf := make([]byte, 64*1024)
		for {
			n, err := s.ReadFile(file, buf)
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			if _, err := os.Stdout.Write(buf[:n]); err != nil {
				return err
			}
		}
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "print inode metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		ino, err := s.FindInode(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("inode:  %d\n", ino.Num())
		fmt.Printf("mode:   %o\n", ino.Mode())
		fmt.Printf("size:   %d\n", ino.Size())
		fmt.Printf("links:  %d\n", ino.LinksCount())
		fmt.Printf("atime:  %s\n", ino.Atime())
		fmt.Printf("ctime:  %s\n", ino.Ctime())
		fmt.Printf("mtime:  %s\n", ino.Mtime())

		if ino.IsSymlink() {
			fmt.Printf("type:   symlink\n")
		} else if ino.IsDir() {
			fmt.Printf("type:   directory\n")
		} else if ino.IsRegular() {
			fmt.Printf("type:   regular file\n")
		}

		extents, err := ino.Extents()
		if err == nil {
			for _, extent := range extents {
				fmt.Printf("extent: logical %d len %d physical %d\n",
					extent.Logical, extent.Len, extent.Physical)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(statCmd)
}
