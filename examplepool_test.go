package gingersnap_test

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"

	"github.com/robey/gingersnap"
)

// encoders and decoders hold idle Writers and Readers between requests.
// Reset rebinds a pooled codec to a new stream.  A Writer reset after Close
// allocates new encode buffers, and a Reader allocates a new read buffer on
// every Reset.
var encoders = sync.Pool{New: func() interface{} { return gingersnap.NewWriter(nil) }}
var decoders = sync.Pool{New: func() interface{} { return gingersnap.NewReader(nil) }}

// ingestHandler accepts a batch of newline separated metric samples,
// transparently decompressing bodies sent as snappy framed streams, and
// replies with a plain text receipt.
func ingestHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body := io.Reader(r.Body)
	if r.Header.Get("Content-Type") == gingersnap.MediaType {
		dec := decoders.Get().(*gingersnap.Reader)
		dec.Reset(r.Body)
		defer func() {
			dec.Reset(nil)
			decoders.Put(dec)
		}()
		body = dec
	}

	samples, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fmt.Fprintf(w, "accepted %d samples", bytes.Count(samples, []byte("\n")))
}

// Pooling writers and readers keeps steady-state allocation flat when
// every request carries a framed body.  Whether the pool pays for itself
// depends on request rate; measure before adopting it.
func Example_pool() {
	server := httptest.NewServer(http.HandlerFunc(ingestHandler))
	defer server.Close()

	// compress a batch of samples with a pooled writer.  the writer must
	// be detached from the buffer before going back in the pool so the
	// pool never holds a reference to request data.
	var batch bytes.Buffer
	enc := encoders.Get().(*gingersnap.Writer)
	enc.Reset(&batch)
	for i := 0; i < 3; i++ {
		fmt.Fprintf(enc, "cpu.load host%d %d.%02d\n", i, i, i*7)
	}
	if err := enc.Close(); err != nil {
		panic(err)
	}
	enc.Reset(nil)
	encoders.Put(enc)

	resp, err := http.Post(server.URL, gingersnap.MediaType, &batch)
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		panic(err)
	}
	// Output: accepted 3 samples
}
