package warehouse

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

type listing struct {
	id           string
	scraped      string
	hostID       string
	hostName     string
	superhost    string
	hostNeigh    string
	listingNeigh string
	propertyType string
	roomType     string
	accommodates string
	price        string
	available    string
	avail30      string
	reviews      string
	rating       string
}

func (l listing) record() []string {
	return []string{
		l.id, "ignored", l.scraped, l.hostID, l.hostName, "2015-01-01", l.superhost,
		l.hostNeigh, l.listingNeigh, l.propertyType, l.roomType, l.accommodates,
		l.price, l.available, l.avail30, l.reviews, l.rating,
		"9", "9", "10", "10", "9",
	}
}

func sydneyListing(id int, scraped string) listing {
	return listing{
		id:           strconv.Itoa(id),
		scraped:      scraped,
		hostID:       "100",
		hostName:     "Ann",
		superhost:    "true",
		hostNeigh:    "surry hills",
		listingNeigh: "Sydney",
		propertyType: "Apartment",
		roomType:     "Entire home/apt",
		accommodates: "2",
		price:        "100",
		available:    "true",
		avail30:      "12",
		reviews:      "5",
		rating:       "90",
	}
}

func waverleyListing(id, scraped, price string) listing {
	return listing{
		id:           id,
		scraped:      scraped,
		hostID:       "200",
		hostName:     "Bob",
		superhost:    "false",
		hostNeigh:    "Atlantis",
		listingNeigh: "Waverley",
		propertyType: "House",
		roomType:     "Private room",
		accommodates: "3",
		price:        price,
		available:    "false",
		avail30:      "10",
		reviews:      "0",
		rating:       "",
	}
}

// fixtureListings has ten active Sydney listings in May 2020 and fifteen in
// June 2020, plus inactive Waverley rows in both months covering the price
// filter, a failed price cast, a missing listing id and an unmatched host
// neighbourhood.
func fixtureListings() []listing {
	var rows []listing
	for i := 1; i <= 10; i++ {
		rows = append(rows, sydneyListing(i, "2020-05-12"))
	}
	for i := 1; i <= 15; i++ {
		rows = append(rows, sydneyListing(i, "2020-06-14"))
	}
	rows = append(rows,
		waverleyListing("21", "2020-05-12", "150"),
		waverleyListing("20", "2020-06-14", "150"),
		waverleyListing("30", "2020-06-14", "2500"),
		waverleyListing("31", "2020-06-14", "abc"),
		waverleyListing("", "2020-06-14", "80"),
	)
	return rows
}

func writeCSV(t *testing.T, path string, header []string, rows [][]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))

	f, err := os.Create(path) //nolint:gosec // test fixture path
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(rows))
}

func positionalHeader(n int) []string {
	h := make([]string, n)
	for i := range h {
		h[i] = "col" + strconv.Itoa(i+1)
	}
	return h
}

// writeFixtures writes a complete source drop under dir using the default
// source layout.
func writeFixtures(t *testing.T, dir string, listings []listing) {
	t.Helper()

	records := make([][]string, len(listings))
	for i, l := range listings {
		records[i] = l.record()
	}
	writeCSV(t, filepath.Join(dir, "listings", "05_2020.csv"), positionalHeader(22), records)

	writeCSV(t, filepath.Join(dir, "census", "census_1.csv"), positionalHeader(4), [][]string{
		{"LGA10050", "100", "110", "210"},
		{"LGA10100", "50", "60", "110"},
	})
	writeCSV(t, filepath.Join(dir, "census", "census_2.csv"), positionalHeader(9), [][]string{
		{"LGA10050", "35", "2000", "900", "450", "2100", "0.8", "1800", "2.4"},
		{"LGA10100", "38", "2500", "1100", "520", "2600", "0.9", "2200", "2.6"},
	})
	writeCSV(t, filepath.Join(dir, "lga", "lga_code.csv"), positionalHeader(2), [][]string{
		{"10050", "Sydney"},
		{"10100", "Waverley"},
	})
	writeCSV(t, filepath.Join(dir, "lga", "lga_suburb.csv"), positionalHeader(2), [][]string{
		{"Sydney", "Surry Hills"},
		{"sydney", "Darlinghurst"},
		{"Waverley", "Bondi"},
		{"Nowhere", "Lost Suburb"},
	})
}
