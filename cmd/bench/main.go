package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryandielhenn/p2pgossip/pkg/wire"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "node address")
	n := flag.Int("n", 5000, "requests")
	conc := flag.Int("c", 32, "concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, *conc)
	var failed atomic.Int64

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func(i int) {
			defer wg.Done()
			defer func() { <-ch }()

			body, _ := json.Marshal(wire.Message{Message: fmt.Sprintf("bench-%d", i)})
			resp, err := client.Post(*addr+"/message", wire.ContentTypeJSON, bytes.NewReader(body))
			drain(resp, err, &failed)

			resp, err = client.Get(*addr + "/known_peers")
			drain(resp, err, &failed)
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Printf("Completed %d ops in %s (%.2f ops/s, %d failed)\n", *n*2, dur, float64(*n*2)/dur.Seconds(), failed.Load())
}

func drain(resp *http.Response, err error, failed *atomic.Int64) {
	if err != nil {
		failed.Add(1)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		failed.Add(1)
	}
}
