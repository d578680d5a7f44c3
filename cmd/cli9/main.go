// Command cli9 is a minimal 9P2000 client, useful for poking at a
// demofs server started with cmd/srv9p.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/buppyio/ninep/client9"
	"github.com/buppyio/ninep/transport"
)

func main() {
	addr := flag.String("addr", "localhost:5640", "server address")
	uname := flag.String("uname", "glenda", "attach uname")
	aname := flag.String("aname", "", "attach aname")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: cli9 [-addr host:port] <cat|ls> <path>")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := transport.DialTCP(ctx, *addr)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	c, err := client9.Connect(ctx, conn, client9.Options{})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Close()

	cl := client9.NewClient(c)
	if err := cl.Attach(ctx, *uname, *aname); err != nil {
		log.Fatalf("attach: %v", err)
	}

	switch flag.Arg(0) {
	case "cat":
		if flag.NArg() != 2 {
			log.Fatal("cat requires a path")
		}
		runCat(ctx, cl, flag.Arg(1))
	case "ls":
		if flag.NArg() != 2 {
			log.Fatal("ls requires a path")
		}
		runLs(ctx, cl, flag.Arg(1))
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
}

func runCat(ctx context.Context, cl *client9.Client, path string) {
	f, err := cl.Open(ctx, path, 0)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer f.Close(ctx)

	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(ctx, buf)
		if n > 0 {
			if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
				log.Fatalf("write: %v", werr)
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Fatalf("read: %v", err)
		}
	}
}

func runLs(ctx context.Context, cl *client9.Client, path string) {
	stats, err := cl.Ls(ctx, path)
	if err != nil {
		log.Fatalf("ls: %v", err)
	}
	for _, st := range stats {
		kind := "-"
		if st.Qid.IsDir() {
			kind = "d"
		}
		fmt.Printf("%s %6d %s\n", kind, st.Length, st.Name)
	}
}
