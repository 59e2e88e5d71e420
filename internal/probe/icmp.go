package probe

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// ICMPProber probes generic_ping devices with a short echo burst.
type ICMPProber struct {
	count   int
	timeout time.Duration
	logger  *zap.Logger
}

// NewICMPProber creates the ICMP adapter.
func NewICMPProber(count int, timeout time.Duration, logger *zap.Logger) *ICMPProber {
	if count <= 0 {
		count = 3
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ICMPProber{count: count, timeout: timeout, logger: logger}
}

// Probe sends a burst of echo requests. The device is up if any reply
// arrives; the reported RTT is the average over received replies.
func (p *ICMPProber) Probe(ctx context.Context, target Target) (*Result, error) {
	if target.Device.IPAddress == "" {
		return nil, errors.New("icmp probe: device has no address")
	}

	pinger, err := probing.NewPinger(target.Device.IPAddress)
	if err != nil {
		return nil, err
	}
	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			p.logger.Debug("ping failed",
				zap.String("ip", target.Device.IPAddress), zap.Error(runErr))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return &Result{Success: false}, nil
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return &Result{Success: false}, nil
	}

	rtt := float64(stats.AvgRtt) / float64(time.Millisecond)
	return &Result{
		Success: true,
		Data: &models.DeviceData{
			PingRTTMs: f64ptr(rtt),
		},
	}, nil
}
