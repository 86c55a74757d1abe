package match

import (
	"strconv"
	"strings"

	"github.com/Gopher0727/Strangers/internal/model"
)

func mockUser(id, username string, picsum int, online bool, gender model.Gender, location string, interest model.Interest) model.User {
	return model.User{
		ID:       id,
		Username: username,
		Email:    strings.ToLower(username) + "@example.com",
		Avatar:   "https://picsum.photos/id/" + strconv.Itoa(picsum) + "/100/100",
		IsOnline: online,
		Gender:   gender,
		Location: location,
		Interest: interest,
	}
}

// Candidates is the matchmaking pool, in draw order.
func Candidates() []model.User {
	return []model.User{
		mockUser("10", "Sophia", 1027, true, model.GenderFemale, "New York", model.InterestStraight),
		mockUser("11", "Liam", 1028, true, model.GenderMale, "Paris", model.InterestBisexual),
		mockUser("12", "Olivia", 1029, true, model.GenderFemale, "Tokyo", model.InterestLesbian),
		mockUser("1", "Alice", 1011, true, model.GenderFemale, "New York", model.InterestBisexual),
		mockUser("2", "Bob", 1012, true, model.GenderMale, "London", model.InterestStraight),
		mockUser("3", "Charlie", 1013, true, model.GenderMale, "Paris", model.InterestGay),
		mockUser("13", "Noah", 1031, true, model.GenderMale, "London", model.InterestCuckFantasies),
		mockUser("14", "Emma", 1032, true, model.GenderFemale, "Sydney", model.InterestGay),
	}
}

func connections() []model.User {
	return []model.User{
		mockUser("1", "Alice", 1011, true, model.GenderFemale, "New York", model.InterestBisexual),
		mockUser("2", "Bob", 1012, false, model.GenderMale, "London", model.InterestStraight),
		mockUser("3", "Charlie", 1013, true, model.GenderMale, "Paris", model.InterestGay),
	}
}

func history() []model.User {
	return []model.User{
		mockUser("4", "Dave", 1014, false, model.GenderMale, "Tokyo", model.InterestStraight),
		mockUser("5", "Eve", 1015, false, model.GenderFemale, "Sydney", model.InterestLesbian),
		mockUser("1", "Alice", 1011, false, model.GenderFemale, "New York", model.InterestBisexual),
	}
}

// Directory is the read-only set of known mock users behind the sidebar.
type Directory struct {
	connections []model.User
	history     []model.User
	all         []model.User
	byID        map[string]int
}

// NewDirectory builds the directory. A user listed twice keeps its first
// position and its last record.
func NewDirectory() *Directory {
	d := &Directory{
		connections: connections(),
		history:     history(),
		byID:        make(map[string]int),
	}
	var extra []model.User
	for _, u := range Candidates() {
		switch u.ID {
		case "1", "2", "3":
		default:
			extra = append(extra, u)
		}
	}
	for _, list := range [][]model.User{d.connections, d.history, extra} {
		for _, u := range list {
			if i, ok := d.byID[u.ID]; ok {
				d.all[i] = u
				continue
			}
			d.byID[u.ID] = len(d.all)
			d.all = append(d.all, u)
		}
	}
	return d
}

func (d *Directory) Connections() []model.User { return clone(d.connections) }

func (d *Directory) History() []model.User { return clone(d.history) }

func (d *Directory) All() []model.User { return clone(d.all) }

// Lookup finds a known user by ID.
func (d *Directory) Lookup(id string) (model.User, bool) {
	i, ok := d.byID[id]
	if !ok {
		return model.User{}, false
	}
	return d.all[i], true
}

// Search matches query case-insensitively against username, email and
// location, skipping excludeID. A blank query matches nothing.
func (d *Directory) Search(query, excludeID string) []model.User {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	q := strings.ToLower(query)
	var out []model.User
	for _, u := range d.all {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) ||
			strings.Contains(strings.ToLower(u.Email), q) ||
			strings.Contains(strings.ToLower(u.Location), q) {
			out = append(out, u)
		}
	}
	return out
}

func clone(users []model.User) []model.User {
	return append([]model.User(nil), users...)
}
