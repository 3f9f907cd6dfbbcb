package httpsvc

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/wraith/internal/workgroup"
)

func TestHTTPService(t *testing.T) {
	log := logrus.New()
	log.SetOutput(logTestWriter{t})

	svc := Service{
		Addr:        "localhost",
		Port:        18001,
		FieldLogger: log,
	}
	svc.ServeMux.HandleFunc("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg workgroup.Group
	wg.AddContext(svc.Start)
	done := make(chan error)
	go func() {
		done <- wg.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:18001/test")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 50*time.Millisecond)

	cancel()
	<-done
}

type logTestWriter struct{ t *testing.T }

func (w logTestWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
