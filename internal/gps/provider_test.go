package gps

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navtrack/internal/nav"
)

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type collector struct {
	fixes chan nav.Fix
	errs  chan error
}

func subscribe(t *testing.T, p *Provider) *collector {
	t.Helper()
	c := &collector{fixes: make(chan nav.Fix, 16), errs: make(chan error, 16)}
	tok, err := p.Subscribe(
		func(f nav.Fix) {
			select {
			case c.fixes <- f:
			default:
			}
		},
		func(err error) {
			select {
			case c.errs <- err:
			default:
			}
		},
	)
	require.NoError(t, err)
	t.Cleanup(func() { p.Unsubscribe(tok) })
	return c
}

func waitErr(t *testing.T, c *collector, target error) error {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case err := <-c.errs:
			if errors.Is(err, target) {
				return err
			}
		case <-deadline:
			t.Fatalf("no error matching %v", target)
			return nil
		}
	}
}

func TestProvider_NMEAPublishesFixes(t *testing.T) {
	pr, pw := io.Pipe()
	p := New(Config{Source: "NMEA", Device: "/dev/ttyFAKE0"}, quiet())
	p.openSerial = func(path string, baud int) (io.ReadCloser, error) {
		assert.Equal(t, "/dev/ttyFAKE0", path)
		assert.Equal(t, DefaultBaud, baud)
		return pr, nil
	}
	c := subscribe(t, p)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	go func() {
		_, _ = io.WriteString(pw, "garbage\r\n"+nmeaLine(ggaFix)+"\r\n"+nmeaLine(rmcActive)+"\r\n")
	}()

	select {
	case f := <-c.fixes:
		assert.InDelta(t, 48.1173, f.LatDeg, 1e-4)
		require.NotNil(t, f.AltitudeM)
		assert.InDelta(t, 545.4, *f.AltitudeM, 1e-9)
	case <-time.After(3 * time.Second):
		t.Fatalf("no fix published")
	}

	st := p.Status()
	assert.True(t, st.Valid)
	assert.True(t, st.Connected)
	assert.Equal(t, uint64(1), st.Fixes)
	assert.Equal(t, "/dev/ttyFAKE0", st.Device)
}

func TestProvider_PermissionDenied(t *testing.T) {
	p := New(Config{Device: "/dev/ttyACM0"}, quiet())
	p.openSerial = func(path string, baud int) (io.ReadCloser, error) {
		return nil, &os.PathError{Op: "open", Path: path, Err: syscall.EACCES}
	}
	c := subscribe(t, p)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	err := waitErr(t, c, nav.ErrPermissionDenied)
	assert.Equal(t, "permission_denied", nav.Kind(err))
	assert.False(t, p.Status().Connected)
}

func TestProvider_NoDeviceIsUnavailable(t *testing.T) {
	p := New(Config{}, quiet())
	p.detect = func() string { return "" }
	c := subscribe(t, p)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()
	waitErr(t, c, nav.ErrPositionUnavailable)
}

func TestProvider_FixTimeout(t *testing.T) {
	pr, _ := io.Pipe()
	p := New(Config{Device: "/dev/ttyFAKE0", FixTimeout: 50 * time.Millisecond}, quiet())
	p.openSerial = func(string, int) (io.ReadCloser, error) { return pr, nil }
	c := subscribe(t, p)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	err := waitErr(t, c, nav.ErrTimeout)
	assert.Equal(t, "timeout", nav.Kind(err))
}

func TestProvider_GPSD(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	watch := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		watch <- line
		_, _ = io.WriteString(conn, `{"class":"VERSION","release":"3.25"}`+"\n")
		_, _ = io.WriteString(conn, `{"class":"TPV","mode":3,"lat":45.5,"lon":-122.9,"speed":3.0,"track":90}`+"\n")
		time.Sleep(time.Second)
	}()

	p := New(Config{Source: SourceGPSD, GPSDAddr: ln.Addr().String()}, quiet())
	c := subscribe(t, p)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	select {
	case f := <-c.fixes:
		assert.Equal(t, 45.5, f.LatDeg)
		require.NotNil(t, f.SpeedMPS)
		assert.Equal(t, 3.0, *f.SpeedMPS)
	case <-time.After(3 * time.Second):
		t.Fatalf("no fix from gpsd")
	}
	assert.Contains(t, <-watch, `"enable":true`)
}

func TestProvider_GPSDDialFailure(t *testing.T) {
	p := New(Config{Source: SourceGPSD, GPSDAddr: "127.0.0.1:1"}, quiet())
	p.dial = func(context.Context, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	c := subscribe(t, p)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()
	waitErr(t, c, nav.ErrPositionUnavailable)
}

func TestProvider_CloseUnblocksReader(t *testing.T) {
	pr, _ := io.Pipe()
	p := New(Config{Device: "/dev/ttyFAKE0"}, quiet())
	p.openSerial = func(string, int) (io.ReadCloser, error) { return pr, nil }
	require.NoError(t, p.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Close did not return")
	}
	p.Close()
}

func TestProvider_BadSource(t *testing.T) {
	p := New(Config{Source: "bluetooth"}, quiet())
	assert.Error(t, p.Start(context.Background()))
}

func TestProvider_IsNavProvider(t *testing.T) {
	var _ nav.Provider = New(Config{}, nil)
}
