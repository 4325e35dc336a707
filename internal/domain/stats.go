package domain

// VenueYearStats counts the outcome of one venue edition.
type VenueYearStats struct {
	TotalPapers      int `json:"total_papers"`
	WithAbstract     int `json:"papers_with_abstract"`
	WithoutDOI       int `json:"papers_without_doi"`
	WithoutDOIAndURL int `json:"papers_without_doi_and_url"`
	Fetched          int `json:"papers_abstract_fetched"`
	Failed           int `json:"papers_abstract_failed"`
	Skipped          int `json:"papers_skipped"`
}

// Add accumulates other into s.
func (s *VenueYearStats) Add(other VenueYearStats) {
	s.TotalPapers += other.TotalPapers
	s.WithAbstract += other.WithAbstract
	s.WithoutDOI += other.WithoutDOI
	s.WithoutDOIAndURL += other.WithoutDOIAndURL
	s.Fetched += other.Fetched
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}

// FetchRate is the share of attempted papers whose abstract was found.
func (s VenueYearStats) FetchRate() float64 {
	attempted := s.Fetched + s.Failed
	if attempted == 0 {
		return 0
	}
	return float64(s.Fetched) / float64(attempted)
}
