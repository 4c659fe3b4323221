// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type Id int

const (
	VersionFetchFailedId Id = iota + 1
	NoLocalArchivesId
	ArchiveReadFailedId
	DownloadFailedId
	InstallFailedId
	ConfigLoadFailedId
	UpdateLockedId
	RebuildFailedId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // documentation about the failure class
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Markdown returns the message with a "See also" section listing links.
func (i *Issue) Markdown() string {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
		for _, link := range i.extLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return md.String()
}

// Render renders the issue for the terminal using a glamour style name or
// path ("dark", "light", "notty", "auto").
func (i *Issue) Render(stylePath string) (string, error) {
	return render(i.Markdown(), stylePath)
}

var (
	render = glamour.Render

	versionFetchFailedIssue = &Issue{
		id: VersionFetchFailedId,
		mdMsg: `
# Could not read the latest tzdata version!

The version endpoint did not answer with a usable version string.

## Things you can try:
- Check network access to the distribution server:
~~~
$ curl -fsS https://data.iana.org/time-zones/tzdb/version
~~~

- Raise the request timeout in your configuration:
~~~cue
remote: {
  timeout: "60s"
}
~~~

- Use pre-downloaded archives instead:
~~~
$ tzsync update --offline --archive-dir /path/to/archives
~~~`,
		extLinks: []HttpLink{"https://www.iana.org/time-zones"},
	}

	noLocalArchivesIssue = &Issue{
		id: NoLocalArchivesId,
		mdMsg: `
# No local tzdata archives found!

Offline mode is enabled but the archive directory holds no
` + "`tzdata<version>.tar.gz`" + ` files.

## Things you can try:
- Check the configured directory:
~~~
$ tzsync config show
~~~

- Download an archive into it, for example:
~~~
$ curl -fsSLO https://data.iana.org/time-zones/releases/tzdata2025b.tar.gz
~~~

- Switch back to online mode:
~~~cue
online: true
~~~`,
	}

	archiveReadFailedIssue = &Issue{
		id: ArchiveReadFailedId,
		mdMsg: `
# Could not read the local tzdata archive!

The archive was listed in the archive directory but could not be opened or read.

## Things you can try:
- Check the file permissions of the archive directory
- Make sure no other process is still writing the archive`,
	}

	downloadFailedIssue = &Issue{
		id: DownloadFailedId,
		mdMsg: `
# tzdata download failed!

A newer version was announced but its archive could not be downloaded.

## Things you can try:
- Retry later; new releases can take a while to reach mirrors
- Point ` + "`remote.base_url`" + ` at a different mirror
- Run with verbose mode for more details:
~~~
$ tzsync --verbose update
~~~`,
		extLinks: []HttpLink{"https://data.iana.org/time-zones/releases/"},
	}

	installFailedIssue = &Issue{
		id: InstallFailedId,
		mdMsg: `
# tzdata install failed!

The archive could not be unpacked into the data directory. The previously
installed snapshot is still active.

## Things you can try:
- Check free disk space and permissions of the data directory
- Remove leftovers of failed installs:
~~~
$ tzsync prune
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the tzsync configuration file.

## Configuration file locations:
- Linux: ~/.config/tzsync/config.cue
- macOS: ~/Library/Application Support/tzsync/config.cue
- Windows: %APPDATA%\tzsync\config.cue

## Things you can try:
- Create a default configuration:
~~~
$ tzsync config init
~~~

- Check the configuration syntax
- Remove the config file to use defaults

## Example configuration:
~~~cue
online: true
data_dir: "/var/lib/tzsync"

schedule: {
  interval: "24h"
}
~~~`,
	}

	updateLockedIssue = &Issue{
		id: UpdateLockedId,
		mdMsg: `
# Another update is running!

A different tzsync process holds the update lock on this data directory.

## Things you can try:
- Wait for the other process to finish and retry
- Check for a running ` + "`tzsync watch`" + ` service`,
	}

	rebuildFailedIssue = &Issue{
		id: RebuildFailedId,
		mdMsg: `
# tzdata rebuild failed!

The new snapshot is active but the configured rebuild command failed.

## Things you can try:
- Run the rebuild command by hand with the same environment:
~~~
$ TZSYNC_VERSION=2025b TZSYNC_SNAPSHOT_DIR=/var/lib/tzsync/2025b sh -c '<command>'
~~~

- Check ` + "`rebuild.command`" + ` in your configuration`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

You don't have permission to write to the data directory.

## Things you can try:
- Check file/directory permissions
- Configure a data directory you own:
~~~cue
data_dir: "~/.local/share/tzsync"
~~~`,
	}

	issues = map[Id]*Issue{
		versionFetchFailedIssue.Id(): versionFetchFailedIssue,
		noLocalArchivesIssue.Id():    noLocalArchivesIssue,
		archiveReadFailedIssue.Id():  archiveReadFailedIssue,
		downloadFailedIssue.Id():     downloadFailedIssue,
		installFailedIssue.Id():      installFailedIssue,
		configLoadFailedIssue.Id():   configLoadFailedIssue,
		updateLockedIssue.Id():       updateLockedIssue,
		rebuildFailedIssue.Id():      rebuildFailedIssue,
		permissionDeniedIssue.Id():   permissionDeniedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
