package shared

import "fmt"

// JobLockKey builds the redis key guarding a singleton background job.
func JobLockKey(job string) string {
	return fmt.Sprintf("jobs:%s:lock", job)
}
