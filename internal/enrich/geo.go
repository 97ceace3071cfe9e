// Package enrich implements the IP→geo and user-agent→device parsers
// described in spec §4.D.
package enrich

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// GeoResult is the Enricher's geo() output (spec §4.D).
type GeoResult struct {
	AnonymizedIP string
	Country      string
	Region       string
	City         string
}

// GeoEnricher resolves truncated IPs to country/region/city using a local
// MaxMind-format database.
type GeoEnricher struct {
	db     *geoip2.Reader
	logger *zap.Logger
}

// NewGeoEnricher opens the MaxMind database at path. A nil *GeoEnricher (or
// one with no database) is safe to call — Geo() still returns the
// truncated IP with empty location fields, satisfying "missing lookups
// yield empty strings" even when the whole database is absent.
func NewGeoEnricher(path string, logger *zap.Logger) (*GeoEnricher, error) {
	if path == "" {
		return &GeoEnricher{logger: logger}, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &GeoEnricher{db: db, logger: logger}, nil
}

// Close releases the underlying database handle, if any.
func (g *GeoEnricher) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

// Geo truncates ip to /24 (IPv4) or /48 (IPv6) before lookup, returning the
// truncated address as AnonymizedIP (spec §4.D). A parse failure or a
// database miss yields empty location fields — never null downstream.
func (g *GeoEnricher) Geo(rawIP string) GeoResult {
	ip := net.ParseIP(rawIP)
	if ip == nil {
		return GeoResult{}
	}

	truncated, mask := truncateIP(ip)
	result := GeoResult{AnonymizedIP: truncated.String()}
	_ = mask

	if g == nil || g.db == nil {
		return result
	}

	city, err := g.db.City(truncated)
	if err != nil {
		if g.logger != nil {
			g.logger.Debug("geoip lookup failed", zap.Error(err))
		}
		return result
	}

	result.Country = city.Country.IsoCode
	if len(city.Subdivisions) > 0 {
		result.Region = city.Subdivisions[0].IsoCode
	}
	result.City = city.City.Names["en"]
	return result
}

// truncateIP zeroes the host bits of ip: the low 8 bits of an IPv4 address
// (/24) or the low 80 bits of an IPv6 address (/48), per spec §4.D.
func truncateIP(ip net.IP) (net.IP, net.IPMask) {
	if v4 := ip.To4(); v4 != nil {
		mask := net.CIDRMask(24, 32)
		return v4.Mask(mask), mask
	}
	mask := net.CIDRMask(48, 128)
	return ip.Mask(mask), mask
}
