package web

import (
	"strconv"
	"time"

	"maragu.dev/gomponents"
	"maragu.dev/gomponents/html"

	"github.com/gaby/plexscanner/internal/history"
	"github.com/gaby/plexscanner/internal/panel"
	"github.com/gaby/plexscanner/internal/scanner"
)

type pageData struct {
	Form   panel.Form
	Toasts []panel.Toast
	Status *scanner.Status
	Scans  []history.Entry
}

func page(d pageData) gomponents.Node {
	return html.Doctype(
		html.HTML(
			html.Lang("zh-CN"),
			html.Head(
				html.Meta(html.Charset("utf-8")),
				html.Meta(html.Name("viewport"), html.Content("width=device-width, initial-scale=1")),
				html.TitleEl(gomponents.Text("Plex扫描插件")),
			),
			html.Body(
				renderToasts(d.Toasts),
				html.H1(gomponents.Text("Plex扫描插件配置")),
				renderForm(d.Form),
				gomponents.Iff(d.Status != nil, func() gomponents.Node { return renderStatus(d.Status) }),
				gomponents.If(len(d.Scans) > 0, renderScans(d.Scans)),
			),
		),
	)
}

func actionButton(action, label string, extra ...gomponents.Node) gomponents.Node {
	return html.Button(
		html.Type("submit"),
		gomponents.Attr("formaction", "/actions/"+action),
		gomponents.Group(extra),
		gomponents.Text(label),
	)
}

func renderForm(f panel.Form) gomponents.Node {
	return html.Form(
		html.ID("plex-scanner-config"),
		html.Method("post"),
		html.Action("/actions/save"),
		// Enter in a text field submits with the first submit button.
		html.Button(
			html.Type("submit"),
			gomponents.Attr("formaction", "/actions/"+ActionSave),
			html.Style("position:absolute;left:-9999px"),
			html.TabIndex("-1"),
			html.Aria("hidden", "true"),
			gomponents.Text("保存"),
		),

		html.Div(html.Class("form-group"),
			html.Label(html.For("plex_server_id"), gomponents.Text("Plex服务器")),
			selectInput("plex_server_id", f.Servers, f.ServerID),
			actionButton(ActionServers, "刷新"),
			actionButton(ActionTestConnection, "测试连接",
				gomponents.If(f.Busy[panel.ControlTestConnection], html.Disabled())),
		),

		html.Div(html.Class("form-group"),
			html.Label(html.For("plex_section_id"), gomponents.Text("媒体库")),
			gomponents.If(f.SectionsVisible, selectInput("plex_section_id", f.Sections, f.SectionID)),
			// Keep the saved value when the selector is hidden.
			gomponents.If(!f.SectionsVisible, html.Input(html.Type("hidden"), html.Name("plex_section_id"), html.Value(f.SectionID))),
			actionButton(ActionLoadSections, "加载媒体库",
				gomponents.If(f.Busy[panel.ControlLoadSections], html.Disabled())),
		),

		html.Div(html.Class("form-group"),
			html.Label(html.For("watch_directory"), gomponents.Text("监控目录")),
			html.Input(html.Type("text"), html.ID("watch_directory"), html.Name("watch_directory"), html.Value(f.WatchDirectory)),
		),

		html.Div(html.Class("form-group"),
			html.Label(html.For("scan_interval"), gomponents.Text("扫描间隔(秒)")),
			html.Input(html.Type("number"), html.ID("scan_interval"), html.Name("scan_interval"), html.Value(f.ScanInterval)),
		),

		html.Div(html.Class("form-group"), html.ID("path-mappings"),
			html.H2(gomponents.Text("路径映射")),
			gomponents.Map(f.Rows, renderRow),
			actionButton(ActionAddMapping, "添加映射"),
		),

		html.Div(html.Class("form-actions"),
			actionButton(ActionSave, "保存"),
			actionButton(ActionCancel, "取消"),
		),
	)
}

func selectInput(name string, opts []panel.Option, selected string) gomponents.Node {
	return html.Select(
		html.ID(name),
		html.Name(name),
		gomponents.Map(opts, func(o panel.Option) gomponents.Node {
			return html.Option(
				html.Value(o.Value),
				gomponents.If(o.Value == selected, html.Selected()),
				gomponents.Text(o.Label),
			)
		}),
	)
}

func renderRow(r panel.Row) gomponents.Node {
	key := panel.RowKey(r.ID)
	return html.Div(
		html.Class("mapping-row"),
		html.ID(key),
		html.Input(html.Type("text"), html.Name(key+"_local"), html.Placeholder("本地路径"), html.Value(r.Local)),
		html.Input(html.Type("text"), html.Name(key+"_plex"), html.Placeholder("Plex路径"), html.Value(r.Plex)),
		html.Button(
			html.Type("submit"),
			gomponents.Attr("formaction", "/actions/"+ActionRemoveMapping+"?id="+strconv.Itoa(r.ID)),
			gomponents.Text("删除"),
		),
	)
}

func renderToasts(ts []panel.Toast) gomponents.Node {
	now := time.Now()
	return html.Div(
		html.ID("toasts"),
		gomponents.Map(ts, func(t panel.Toast) gomponents.Node {
			return html.Div(
				html.Class("toast toast-"+string(t.Level)+" "+string(t.Phase(now))),
				html.Data("id", t.ID),
				html.Span(gomponents.Text(t.Message)),
				html.Form(
					html.Method("post"),
					html.Action("/toasts/"+t.ID+"/dismiss"),
					html.Button(html.Type("submit"), gomponents.Text("×")),
				),
			)
		}),
	)
}

func renderStatus(st *scanner.Status) gomponents.Node {
	watching := "否"
	if st.Watching {
		watching = "是"
	}
	last := "-"
	if !st.LastSweep.IsZero() {
		last = st.LastSweep.Format(time.DateTime)
	}
	return html.Section(
		html.ID("scanner-status"),
		html.H2(gomponents.Text("扫描状态")),
		html.Dl(
			html.Dt(gomponents.Text("监控目录")), html.Dd(gomponents.Text(st.WatchDirectory)),
			html.Dt(gomponents.Text("实时监控")), html.Dd(gomponents.Text(watching)),
			html.Dt(gomponents.Text("扫描间隔")), html.Dd(gomponents.Textf("%d秒", st.Interval)),
			html.Dt(gomponents.Text("上次扫描")), html.Dd(gomponents.Text(last)),
			gomponents.If(st.LastError != "", gomponents.Group{
				html.Dt(gomponents.Text("错误")), html.Dd(gomponents.Text(st.LastError)),
			}),
		),
	)
}

func renderScans(scans []history.Entry) gomponents.Node {
	return html.Section(
		html.ID("recent-scans"),
		html.H2(gomponents.Text("最近扫描")),
		html.Table(
			html.THead(html.Tr(
				html.Th(gomponents.Text("时间")),
				html.Th(gomponents.Text("来源")),
				html.Th(gomponents.Text("变化")),
				html.Th(gomponents.Text("Plex路径")),
				html.Th(gomponents.Text("文件数")),
				html.Th(gomponents.Text("结果")),
			)),
			html.TBody(gomponents.Map(scans, func(e history.Entry) gomponents.Node {
				result := "成功"
				if e.Error != nil {
					result = *e.Error
				}
				return html.Tr(
					html.Td(gomponents.Text(e.Time.Format(time.DateTime))),
					html.Td(gomponents.Text(e.Source)),
					html.Td(gomponents.Text(e.Change)),
					html.Td(gomponents.Text(e.PlexPath)),
					html.Td(gomponents.Text(strconv.Itoa(e.Files))),
					html.Td(gomponents.Text(result)),
				)
			})),
		),
	)
}
