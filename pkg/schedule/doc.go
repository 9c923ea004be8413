// Package schedule provides recurring schedules for handler maintenance
// tasks such as releasing stale job locks and purging finished jobs.
//
// This package includes:
//   - Schedule interface for defining schedules
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Weekly() for weekly schedules on a specific day and time
//   - Cron() and ParseCron() for cron expression-based schedules
//   - Run() to drive a task from a schedule
package schedule
