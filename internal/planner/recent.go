package planner

// MaxRecentRoutes caps each user's recent-route history.
const MaxRecentRoutes = 7

// RecentRouteLabel formats a route for the recent list.
func RecentRouteLabel(from, to string) string {
	return from + " → " + to
}

// PushRecent puts route at the front of list, dropping an earlier copy and
// anything beyond max.
func PushRecent(list []string, route string, max int) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, route)
	for _, r := range list {
		if r != route {
			out = append(out, r)
		}
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
