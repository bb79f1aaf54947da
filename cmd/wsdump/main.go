// Command wsdump is a thin interactive WebSocket client: it reads lines
// from stdin, sends each as a Text message, and prints every received
// Text message to stdout. It exists for end-to-end exercise of the codec
// and driver against real servers (including the Autobahn fuzzingserver),
// not as a feature of the library itself.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/coreframe/websocket"
)

func main() {
	os.Exit(run())
}

func run() int {
	linger := flag.Duration("linger", 2*time.Second, "time to wait for the close handshake to finish")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: wsdump [-linger DURATION] <url>")
		return 2
	}
	url := flag.Arg(0)

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := websocket.Dial(ctx, url, websocket.ConnOptions{Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsdump: %v\n", err)
		return 1
	}

	done := make(chan struct{})
	go readLoop(client, done)

	writeStdinLines(client)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), *linger)
	defer closeCancel()
	if err := client.Close(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "wsdump: close: %v\n", err)
		<-done
		return 1
	}

	<-done
	return 0
}

func writeStdinLines(client *websocket.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.Send(ctx, websocket.KindText, scanner.Bytes())
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsdump: send: %v\n", err)
			return
		}
	}
}

func readLoop(client *websocket.Client, done chan struct{}) {
	defer close(done)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		msg, err := client.Receive(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, websocket.ErrCloseSent) {
				fmt.Fprintf(os.Stderr, "wsdump: receive: %v\n", err)
			}
			return
		}
		switch msg.Kind {
		case websocket.KindText:
			fmt.Println(string(msg.Payload))
		case websocket.KindClose:
			return
		}
	}
}
