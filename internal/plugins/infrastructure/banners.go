package infrastructure

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/transport"
)

// ServiceBannersName is the registry name of the service banner plugin.
const ServiceBannersName = "service_banners"

// DefaultBannerPorts are the ports probed when no ports option is set.
const DefaultBannerPorts = "21,22,25,587"

// bannerTimeout bounds reading a banner or an FTP reply.
const bannerTimeout = 5 * time.Second

// ServiceBanners connects to well-known service ports of every target host
// and reports what the greeting banners disclose. An FTP server that lets
// anonymous users log in is reported as a vulnerability.
//
// Design decision: only the greeting is read, using raw TCP through the
// transport's dialer. Speaking the full SSH or SMTP protocols would not
// reveal more than the banner and would need a client library per protocol.
type ServiceBanners struct {
	mu    sync.Mutex
	ports []int
}

// NewServiceBanners is the plugin factory.
func NewServiceBanners() plugin.Plugin {
	ports, _ := parsePorts(DefaultBannerPorts) //nolint:errcheck // constant input
	return &ServiceBanners{ports: ports}
}

func (p *ServiceBanners) Name() string              { return ServiceBannersName }
func (p *ServiceBanners) Category() plugin.Category { return plugin.CategoryInfrastructure }
func (p *ServiceBanners) Description() string {
	return "Reads SSH, FTP and SMTP greeting banners of the target hosts and tries anonymous FTP."
}

// Options implements plugin.Configurable.
func (p *ServiceBanners) Options() []plugin.OptionInfo {
	return []plugin.OptionInfo{
		{Name: "ports", Description: "comma-separated TCP ports to probe", Default: DefaultBannerPorts},
	}
}

// SetOption implements plugin.Configurable.
func (p *ServiceBanners) SetOption(key, value string) error {
	if key != "ports" {
		return fmt.Errorf("%w: %s", plugin.ErrUnknownOption, key)
	}
	ports, err := parsePorts(value)
	if err != nil {
		return fmt.Errorf("%w: ports: %w", plugin.ErrInvalidOption, err)
	}
	p.mu.Lock()
	p.ports = ports
	p.mu.Unlock()
	return nil
}

func parsePorts(s string) ([]int, error) {
	var ports []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("invalid port %q", field)
		}
		ports = append(ports, n)
	}
	if len(ports) == 0 {
		return nil, errors.New("no port given")
	}
	return ports, nil
}

// Discover probes every configured port of the host of u. Closed ports are
// skipped silently. It never returns new URLs.
func (p *ServiceBanners) Discover(ctx context.Context, env *plugin.Env, u *url.URL) ([]*url.URL, error) {
	p.mu.Lock()
	ports := p.ports
	p.mu.Unlock()

	host := u.Hostname()
	for _, port := range ports {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		findings, err := probe(ctx, env.Opener, addr, port)
		if errors.Is(err, transport.ErrStopped) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			env.Logger.Debug("service probe failed", "address", addr, "error", err)
			continue
		}
		for _, f := range findings {
			env.Report(p, f)
		}
	}
	return nil, nil
}

// probe reads the banner at addr and analyzes it.
func probe(ctx context.Context, opener *transport.Opener, addr string, port int) ([]model.Finding, error) {
	conn, err := opener.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	banner, err := readReply(conn, r)
	if err != nil {
		return nil, err
	}

	location := "tcp://" + addr
	findings := analyzeBanner(banner, port, location)
	if isFTP(banner, port) && anonymousFTP(conn, r) {
		f := model.NewFinding(model.KindVuln, "ftp_anonymous_login", "Anonymous FTP login",
			"The FTP server accepts the anonymous user, which exposes its files to anyone.")
		f.URL = location
		f.Evidence = "USER anonymous accepted"
		findings = append(findings, f)
	}
	return findings, nil
}

// readReply reads one reply, following the "NNN-" continuation lines of
// FTP and SMTP greetings.
func readReply(conn net.Conn, r *bufio.Reader) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(bannerTimeout)); err != nil {
		return "", err
	}
	var lines []string
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
		if err != nil {
			if len(lines) > 0 {
				break
			}
			return "", err
		}
		if !continued(line) {
			break
		}
	}
	return strings.Join(lines, "\n"), nil
}

// continued reports whether line is a "NNN-" line followed by more lines.
func continued(line string) bool {
	if len(line) < 4 || line[3] != '-' {
		return false
	}
	_, err := strconv.Atoi(line[:3])
	return err == nil
}

func isFTP(banner string, port int) bool {
	if !strings.HasPrefix(banner, "220") {
		return false
	}
	return port == 21 || strings.Contains(strings.ToLower(banner), "ftp")
}

// anonymousFTP tries the anonymous login and reports whether it succeeded.
func anonymousFTP(conn net.Conn, r *bufio.Reader) bool {
	send := func(cmd string) (string, bool) {
		if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
			return "", false
		}
		reply, err := readReply(conn, r)
		return reply, err == nil
	}

	reply, ok := send("USER anonymous")
	if !ok {
		return false
	}
	if strings.HasPrefix(reply, "331") {
		if reply, ok = send("PASS anonymous@example.com"); !ok {
			return false
		}
	}
	logged := strings.HasPrefix(reply, "230")
	send("QUIT")
	return logged
}

// analyzeBanner reports the banner itself and what it reveals about the
// software and operating system.
func analyzeBanner(banner string, port int, location string) []model.Finding {
	var findings []model.Finding
	add := func(kind model.Kind, findingType, name, description, evidence string) {
		f := model.NewFinding(kind, findingType, name, description)
		f.URL = location
		f.Evidence = evidence
		findings = append(findings, f)
	}

	first, _, _ := strings.Cut(banner, "\n")
	service := serviceName(first, port)
	add(model.KindInfo, "service_banner", service+" banner",
		fmt.Sprintf("The %s service on port %d identifies itself in its greeting.", service, port), first)

	if strings.HasPrefix(first, "SSH-1") {
		add(model.KindVuln, "ssh_protocol_v1", "SSH protocol version 1",
			"The server offers SSH protocol version 1, which is broken.", first)
	}
	if v, ok := openSSHMajor(first); ok && v < 7 {
		add(model.KindVuln, "outdated_ssh", "Outdated OpenSSH",
			"The OpenSSH version predates 7.0 and has known vulnerabilities.", first)
	}

	lower := strings.ToLower(banner)
	for _, ind := range osIndicators {
		if strings.Contains(lower, ind.marker) {
			add(model.KindInfo, "os_detected", "Operating system detected",
				"The "+service+" banner reveals the operating system.", ind.os)
			break
		}
	}
	return findings
}

func serviceName(banner string, port int) string {
	switch {
	case strings.HasPrefix(banner, "SSH-"):
		return "SSH"
	case isFTP(banner, port):
		return "FTP"
	case strings.HasPrefix(banner, "220"):
		return "SMTP"
	default:
		return "TCP"
	}
}

// openSSHMajor extracts the major version from "SSH-2.0-OpenSSH_8.9p1 ...".
func openSSHMajor(banner string) (int, bool) {
	_, rest, ok := strings.Cut(banner, "OpenSSH_")
	if !ok {
		return 0, false
	}
	major, _, ok := strings.Cut(rest, ".")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(major)
	return n, err == nil
}
