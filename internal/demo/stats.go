package demo

// Counter tallies smoke run outcomes.
type Counter struct {
	Created   int
	Published int
	Failed    int
	Credits   int64
}

func (c *Counter) Add(published bool) {
	c.Created++
	if published {
		c.Published++
	} else {
		c.Failed++
	}
}

// PublishRate is the share of created passports that reached publication.
func (c Counter) PublishRate() float64 {
	if c.Created == 0 {
		return 0
	}
	return float64(c.Published) / float64(c.Created)
}
