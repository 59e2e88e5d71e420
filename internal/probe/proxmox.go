package probe

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultProxmoxPort = 8006

// proxmoxResponse wraps the standard Proxmox API response envelope.
type proxmoxResponse struct {
	Data json.RawMessage `json:"data"`
}

// ProxmoxProber probes Proxmox VE hosts over the REST API and enumerates
// the cluster's nodes and guests.
type ProxmoxProber struct {
	logger *zap.Logger
}

// NewProxmoxProber creates the Proxmox adapter.
func NewProxmoxProber(logger *zap.Logger) *ProxmoxProber {
	return &ProxmoxProber{logger: logger}
}

// proxmoxClient is one authenticated connection to a Proxmox API endpoint.
// Auth is either an API token or a ticket from username/password login.
type proxmoxClient struct {
	baseURL     string
	tokenID     string
	tokenSecret string
	ticket      string
	httpClient  *http.Client
}

func (p *ProxmoxProber) newClient(ctx context.Context, ip string, cred *models.ProxmoxCredentials) (*proxmoxClient, error) {
	port := cred.Port
	if port == 0 {
		port = defaultProxmoxPort
	}
	c := &proxmoxClient{
		baseURL:     "https://" + ip + ":" + strconv.Itoa(port),
		tokenID:     cred.TokenID,
		tokenSecret: cred.TokenSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
					// Proxmox commonly runs with self-signed certs.
					InsecureSkipVerify: !cred.VerifyTLS,
				},
			},
		},
	}

	if c.tokenID == "" {
		if cred.Username == "" || cred.Password == "" {
			return nil, errors.New("proxmox credentials need a token or username/password")
		}
		if err := c.login(ctx, cred.Username, cred.Password, cred.Realm); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// login obtains a PVE ticket via /access/ticket.
func (c *proxmoxClient) login(ctx context.Context, username, password, realm string) error {
	if realm != "" && !strings.Contains(username, "@") {
		username = username + "@" + realm
	}
	form := url.Values{"username": {username}, "password": {password}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api2/json/access/ticket", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("proxmox login: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxmox login returned %d", resp.StatusCode)
	}

	var envelope struct {
		Data struct {
			Ticket string `json:"ticket"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if envelope.Data.Ticket == "" {
		return errors.New("proxmox login: empty ticket")
	}
	c.ticket = envelope.Data.Ticket
	return nil
}

// apiGet performs an authenticated GET request and returns the unwrapped
// "data" field from the response envelope.
func (c *proxmoxClient) apiGet(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.tokenID != "" {
		req.Header.Set("Authorization", "PVEAPIToken="+c.tokenID+"="+c.tokenSecret)
	} else {
		req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: c.ticket})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxmox API returned %d: %s", resp.StatusCode, string(body))
	}

	var envelope proxmoxResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse response envelope: %w", err)
	}
	return envelope.Data, nil
}

// Probe enumerates the cluster and every guest on every online node.
// Per-node guest listing fans out concurrently.
func (p *ProxmoxProber) Probe(ctx context.Context, target Target) (*Result, error) {
	if target.Credentials == nil || target.Credentials.Proxmox == nil {
		return nil, errors.New("proxmox probe: proxmox credentials required")
	}

	client, err := p.newClient(ctx, target.Device.IPAddress, target.Credentials.Proxmox)
	if err != nil {
		p.logger.Debug("proxmox auth failed",
			zap.String("ip", target.Device.IPAddress), zap.Error(err))
		return &Result{Success: false}, nil
	}

	inv, version, err := p.collect(ctx, client)
	if err != nil {
		p.logger.Debug("proxmox collect failed",
			zap.String("ip", target.Device.IPAddress), zap.Error(err))
		return &Result{Success: false}, nil
	}

	data := &models.DeviceData{
		Identity: inv.ClusterName,
		Model:    "Proxmox VE",
		Version:  version,
	}
	return &Result{Success: true, Data: data, Proxmox: inv}, nil
}

func (p *ProxmoxProber) collect(ctx context.Context, client *proxmoxClient) (*ProxmoxInventory, string, error) {
	statusRaw, err := client.apiGet(ctx, "/api2/json/cluster/status")
	if err != nil {
		return nil, "", fmt.Errorf("cluster status: %w", err)
	}

	var entries []struct {
		Type   string `json:"type"` // "cluster" or "node"
		Name   string `json:"name"`
		Online int    `json:"online"`
	}
	if err := json.Unmarshal(statusRaw, &entries); err != nil {
		return nil, "", fmt.Errorf("parse cluster status: %w", err)
	}

	inv := &ProxmoxInventory{}
	for _, e := range entries {
		switch e.Type {
		case "cluster":
			inv.ClusterName = e.Name
		case "node":
			inv.Nodes = append(inv.Nodes, ProxmoxNodeInfo{Name: e.Name, Online: e.Online != 0})
		}
	}
	if inv.ClusterName == "" && len(inv.Nodes) > 0 {
		// Standalone host: no cluster entry, node name doubles as cluster.
		inv.ClusterName = inv.Nodes[0].Name
	}

	var version string
	if raw, err := client.apiGet(ctx, "/api2/json/version"); err == nil {
		var v struct {
			Version string `json:"version"`
		}
		if json.Unmarshal(raw, &v) == nil {
			version = v.Version
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range inv.Nodes {
		if !node.Online {
			continue
		}
		g.Go(func() error {
			guests, err := p.collectNodeGuests(gctx, client, node.Name)
			if err != nil {
				// A single unreachable node must not sink the sweep.
				p.logger.Debug("node guest listing failed",
					zap.String("node", node.Name), zap.Error(err))
				return nil
			}
			mu.Lock()
			inv.Guests = append(inv.Guests, guests...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}
	return inv, version, nil
}

// proxmoxGuest is the shared shape of /qemu and /lxc list entries.
type proxmoxGuest struct {
	VMID    int     `json:"vmid"`
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	CPUs    float64 `json:"cpus"`
	Maxmem  int64   `json:"maxmem"`
	Maxdisk int64   `json:"maxdisk"`
	Uptime  int64   `json:"uptime"`
}

func (p *ProxmoxProber) collectNodeGuests(ctx context.Context, client *proxmoxClient, node string) ([]ProxmoxGuestInfo, error) {
	var out []ProxmoxGuestInfo

	for _, kind := range []models.ProxmoxGuestType{models.GuestTypeQemu, models.GuestTypeLXC} {
		raw, err := client.apiGet(ctx, "/api2/json/nodes/"+node+"/"+string(kind))
		if err != nil {
			return nil, fmt.Errorf("list %s on %s: %w", kind, node, err)
		}
		var guests []proxmoxGuest
		if err := json.Unmarshal(raw, &guests); err != nil {
			return nil, fmt.Errorf("parse %s list: %w", kind, err)
		}
		for _, guest := range guests {
			info := ProxmoxGuestInfo{
				VMID:          guest.VMID,
				Name:          guest.Name,
				Type:          kind,
				Node:          node,
				Status:        normalizeGuestStatus(guest.Status),
				CPUs:          int(guest.CPUs),
				MaxMemBytes:   guest.Maxmem,
				MaxDiskBytes:  guest.Maxdisk,
				UptimeSeconds: guest.Uptime,
			}
			if kind == models.GuestTypeQemu && info.Status == "running" {
				info.IPAddresses, info.MACAddresses = p.guestAgentAddresses(ctx, client, node, guest.VMID)
			}
			out = append(out, info)
		}
	}
	return out, nil
}

// guestAgentAddresses queries the QEMU guest agent for interface addresses.
// The agent is optional; failures return empty slices.
func (p *ProxmoxProber) guestAgentAddresses(ctx context.Context, client *proxmoxClient, node string, vmid int) (ips, macs []string) {
	path := fmt.Sprintf("/api2/json/nodes/%s/qemu/%d/agent/network-get-interfaces", node, vmid)
	raw, err := client.apiGet(ctx, path)
	if err != nil {
		return nil, nil
	}

	var payload struct {
		Result []struct {
			Name        string `json:"name"`
			HWAddr      string `json:"hardware-address"`
			IPAddresses []struct {
				Type    string `json:"ip-address-type"`
				Address string `json:"ip-address"`
			} `json:"ip-addresses"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil
	}

	for _, iface := range payload.Result {
		if iface.HWAddr != "" {
			macs = append(macs, iface.HWAddr)
		}
		for _, addr := range iface.IPAddresses {
			if addr.Address != "" {
				ips = append(ips, addr.Address)
			}
		}
	}
	return ips, macs
}

func normalizeGuestStatus(s string) string {
	switch s {
	case "running", "stopped", "paused":
		return s
	default:
		return "unknown"
	}
}
