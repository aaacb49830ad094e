package main

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/mdns"

	"github.com/tobiasguyer/streamcore32/internal/identity"
	"github.com/tobiasguyer/streamcore32/internal/model"
)

// mdnsAdvertiser owns the two mDNS services spec §6 names
// (`_spotify-connect._tcp`, `_qobuz-connect._tcp`); enrichment pulled
// from the rest of the retrieval pack rather than the teacher, since
// go-rtmp never advertises itself over mDNS.
type mdnsAdvertiser struct {
	servers []*mdns.Server
}

func startMDNSAdvertisers(id model.SessionIdentity, deviceName string, port int, log *slog.Logger) (*mdnsAdvertiser, error) {
	adv := &mdnsAdvertiser{}

	specs := []struct {
		service string
		txt     map[string]string
	}{
		{"_spotify-connect._tcp", identity.SpotifyConnectTXT()},
		{"_qobuz-connect._tcp", identity.QobuzConnectTXT(id)},
	}

	for _, s := range specs {
		txt := make([]string, 0, len(s.txt))
		for k, v := range s.txt {
			txt = append(txt, k+"="+v)
		}
		svc, err := mdns.NewMDNSService(deviceName, s.service, "", "", port, nil, txt)
		if err != nil {
			adv.Shutdown()
			return nil, fmt.Errorf("mdns: new service %s: %w", s.service, err)
		}
		srv, err := mdns.NewServer(&mdns.Config{Zone: svc})
		if err != nil {
			adv.Shutdown()
			return nil, fmt.Errorf("mdns: start server %s: %w", s.service, err)
		}
		adv.servers = append(adv.servers, srv)
		log.Info("mdns: advertising", "service", s.service, "instance", deviceName)
	}

	return adv, nil
}

func (a *mdnsAdvertiser) Shutdown() {
	for _, s := range a.servers {
		_ = s.Shutdown()
	}
}
