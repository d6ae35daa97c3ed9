package enrich

import (
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	crawler "github.com/Rabenherz112/map-the-net-crawler"
)

// lookupGeoDB resolves the IP against the local MaxMind database and reports
// whether it produced a usable location. A missing reader or an IP the
// database has never heard of both return false so the caller can fall back.
func (e *Enricher) lookupGeoDB(ip string, rec *crawler.Domain, log *zap.Logger) bool {
	if e.geoDB == nil {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	city, err := e.geoDB.City(parsed)
	if err != nil {
		log.Debug("maxmind lookup failed", zap.String("ip", ip), zap.Error(err))
		return false
	}
	if city.Country.IsoCode == "" && city.Location.Latitude == 0 && city.Location.Longitude == 0 {
		return false
	}
	if city.Country.IsoCode != "" {
		rec.Country = crawler.StringPtr(city.Country.IsoCode)
	}
	rec.Latitude = crawler.Float64Ptr(city.Location.Latitude)
	rec.Longitude = crawler.Float64Ptr(city.Location.Longitude)
	return true
}

// applyIPInfoGeo copies the location fields of an ipinfo answer into the
// record. The loc field is "lat,lon" as two decimals.
func applyIPInfoGeo(info *ipinfoResponse, rec *crawler.Domain) {
	if info.Country != "" {
		rec.Country = crawler.StringPtr(info.Country)
	}
	latRaw, lonRaw, found := strings.Cut(info.Loc, ",")
	if !found {
		return
	}
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(lonRaw), 64)
	if latErr != nil || lonErr != nil {
		return
	}
	rec.Latitude = crawler.Float64Ptr(lat)
	rec.Longitude = crawler.Float64Ptr(lon)
}
