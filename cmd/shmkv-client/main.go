// Command shmkv-client is a small demo CLI exercising a running
// shmkv-server region's get/set/post/del operations, in the spirit of
// the retrieved cs6450-labs client mains.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/shmkv/shmkv"
)

func main() {
	region := flag.String("region", "default", "name of the region to connect to")
	op := flag.String("op", "get", "operation: get, set, post, del")
	key := flag.Int("key", 0, "key")
	value := flag.Int("value", 0, "value (for set/post)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cli, err := shmkv.Connect[int32, int32](*region, shmkv.WithLogger(log))
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer cli.Close()

	switch *op {
	case "get":
		v, found, err := cli.Get(int32(*key))
		if err != nil {
			fmt.Fprintln(os.Stderr, "get:", err)
			os.Exit(1)
		}
		if !found {
			fmt.Println("not found")
			return
		}
		fmt.Println(v)

	case "set":
		if err := cli.Set(int32(*key), int32(*value)); err != nil {
			fmt.Fprintln(os.Stderr, "set:", err)
			os.Exit(1)
		}
		fmt.Println("ok")

	case "post":
		inserted, err := cli.Post(int32(*key), int32(*value))
		if err != nil {
			fmt.Fprintln(os.Stderr, "post:", err)
			os.Exit(1)
		}
		fmt.Println(inserted)

	case "del":
		existed, err := cli.Del(int32(*key))
		if err != nil {
			fmt.Fprintln(os.Stderr, "del:", err)
			os.Exit(1)
		}
		fmt.Println(existed)

	default:
		fmt.Fprintf(os.Stderr, "unknown op %q\n", *op)
		os.Exit(2)
	}
}
