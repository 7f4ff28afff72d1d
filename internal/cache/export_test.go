package cache

// FlightWaiters reports how many callers wait on the shared fill for (op, params).
func FlightWaiters(c *Cache, op string, params any) int {
	key, err := Key(op, params)
	if err != nil {
		return 0
	}

	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()

	if f, ok := c.flights[key]; ok {
		return f.waiters
	}
	return 0
}
