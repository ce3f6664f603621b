package panel

import "strconv"

// RowKey is the element id a UI uses for a mapping row.
func RowKey(id int) string { return "mapping_" + strconv.Itoa(id) }

// AddMapping appends a row, optionally pre-filled, and returns its id.
// Ids only grow for the life of the controller.
func (c *Controller) AddMapping(local, plex string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addRowLocked(local, plex)
}

func (c *Controller) addRowLocked(local, plex string) int {
	id := c.nextRow
	c.nextRow++
	c.form.Rows = append(c.form.Rows, Row{ID: id, Local: local, Plex: plex})
	return id
}

// RemoveMapping deletes the row with the given id. It reports false when no
// such row exists.
func (c *Controller) RemoveMapping(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.form.Rows {
		if r.ID == id {
			c.form.Rows = append(c.form.Rows[:i:i], c.form.Rows[i+1:]...)
			return true
		}
	}
	return false
}

// SetMapping stores the typed values of a row's two inputs.
func (c *Controller) SetMapping(id int, local, plex string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.form.Rows {
		if c.form.Rows[i].ID == id {
			c.form.Rows[i].Local = local
			c.form.Rows[i].Plex = plex
			return true
		}
	}
	return false
}
